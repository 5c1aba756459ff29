package ginmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"reqlog"
	"reqlog/internal/ctxstack"
	"reqlog/internal/pipeline"
)

type capturingSink struct {
	mu      sync.Mutex
	batches []pipeline.Batch
}

func (s *capturingSink) Deliver(ctx context.Context, windowEnd int64, records []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, pipeline.Batch{WindowEnd: windowEnd, Records: records})
	return nil
}

func (s *capturingSink) snapshot() []pipeline.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pipeline.Batch, len(s.batches))
	copy(out, s.batches)
	return out
}

func TestMiddlewareRecordsOneScopePerRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	sink := &capturingSink{}
	backend := ctxstack.NewContextBackend()
	if err := reqlog.Initialize(context.Background(), reqlog.DefaultConfig().WithSink(sink).WithContextBackend(backend)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	r := gin.New()
	r.Use(Middleware(backend))
	r.GET("/x", func(c *gin.Context) {
		reqlog.LogValue(map[string]any{"handled": true})
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	got := sink.snapshot()
	if len(got) != 1 || len(got[0].Records) != 1 {
		t.Fatalf("got %v, want one batch of one record", got)
	}
	rr := got[0].Records[0]
	if rr["path"] != "/x" || rr["method"] != http.MethodGet {
		t.Fatalf("request fields missing: %v", rr)
	}
	if rr["handled"] != true {
		t.Fatalf("handler's LogValue not recorded: %v", rr)
	}
	if status, _ := rr["status"].(int); status != http.StatusOK {
		t.Fatalf("status = %v, want 200", rr["status"])
	}
}

func TestMiddlewareFaultsScopeOnGinError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	sink := &capturingSink{}
	backend := ctxstack.NewContextBackend()
	if err := reqlog.Initialize(context.Background(), reqlog.DefaultConfig().WithSink(sink).WithContextBackend(backend)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	r := gin.New()
	r.Use(Middleware(backend))
	r.GET("/y", func(c *gin.Context) {
		c.Error(http.ErrAbortHandler)
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/y", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	got := sink.snapshot()
	if len(got) != 1 {
		t.Fatalf("got %v, want one batch", got)
	}
	if got[0].Records[0]["fault"] != 1 {
		t.Fatalf("fault = %v, want 1", got[0].Records[0]["fault"])
	}
}
