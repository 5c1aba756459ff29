// Package ctxstack implements the ambient-context mechanism (spec.md
// §4.2, C2): a pluggable Backend resolves "the current record stack" for
// the calling execution context, and Registry layers push/pop/current
// semantics on top.
package ctxstack

import (
	"context"
	"runtime"
	"strconv"
	"sync"
)

// Frame is the stack a single execution context owns. It holds the
// opaque record pointers as `any` so this package stays independent of
// the record package (avoiding an import cycle with pipeline/facade).
type Frame struct {
	stack []any
}

// Backend is the pluggable context-association capability spec.md §4.2
// and §6 describe: Get/Set per logical execution context.
type Backend interface {
	Get() (*Frame, bool)
	Set(*Frame)
}

// goroutineBackend is the default backend. Go's runtime does not expose
// a goroutine id (see the pack's luci-go comment: "runtime doesn't
// expose the goroutine id"), so this is the same best-effort
// stack-header-parsing approximation other goroutine-local-storage
// shims use — adequate for the common case of one logical operation
// per OS-scheduled goroutine, but not safe across a goroutine handoff
// (use the context-object backend there instead).
type goroutineBackend struct {
	frames sync.Map // goroutine key (string) -> *Frame
}

func newGoroutineBackend() *goroutineBackend {
	return &goroutineBackend{}
}

func (b *goroutineBackend) Get() (*Frame, bool) {
	v, ok := b.frames.Load(goroutineKey())
	if !ok {
		return nil, false
	}
	return v.(*Frame), true
}

func (b *goroutineBackend) Set(f *Frame) {
	b.frames.Store(goroutineKey(), f)
}

// goroutineKey parses the numeric id out of the "goroutine N [...]"
// header that runtime.Stack always writes first. Best effort only.
func goroutineKey() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if len(b) < len(prefix) || string(b[:len(prefix)]) != prefix {
		return "unknown"
	}
	b = b[len(prefix):]
	end := 0
	for end < len(b) && b[end] >= '0' && b[end] <= '9' {
		end++
	}
	if end == 0 {
		return "unknown"
	}
	return strconv.Itoa(end) + ":" + string(b[:end])
}

// contextKey is the private type used to store the frame holder inside
// a context.Context value.
type contextKey struct{}

// frameHolder is the mutable cell stored once in a context.Context; Set
// mutates the pointed-to Frame rather than trying to rebind the
// context.Context itself, since contexts are otherwise immutable.
type frameHolder struct {
	mu    sync.Mutex
	frame *Frame
}

// ContextBackend adapts spec.md §4.2's "external context object" variant
// to Go's context.Context. Backend.Get/Set take no context argument
// (per spec.md §6's contract), so association is still resolved by
// goroutine affinity, same as the default backend — but WithFrame also
// embeds the holder inside the returned context.Context itself. That
// lets a goroutine that receives only the context.Context (not the
// originating goroutine) re-establish the association via Adopt,
// which a pure goroutine-keyed backend has no way to do. This is what
// makes this backend the right choice for frameworks like gin, where a
// request's logical lifetime may span a handoff to a worker goroutine.
type ContextBackend struct {
	holders sync.Map // goroutine key (string) -> *frameHolder
}

// NewContextBackend creates a backend with no context bound yet; bind
// one per request via WithFrame before Get/Set are meaningful.
func NewContextBackend() *ContextBackend {
	return &ContextBackend{}
}

// WithFrame returns a derived context carrying a fresh, empty frame
// holder, and registers that holder as active for the calling
// goroutine for the duration of the returned scope. Callers (e.g.
// ginmiddleware) call WithFrame at request start and the returned func
// at request end.
func (b *ContextBackend) WithFrame(ctx context.Context) (context.Context, func()) {
	holder := &frameHolder{}
	child := context.WithValue(ctx, contextKey{}, holder)

	key := goroutineKey()
	prev, hadPrev := b.holders.Load(key)
	b.holders.Store(key, holder)

	return child, func() {
		if hadPrev {
			b.holders.Store(key, prev)
		} else {
			b.holders.Delete(key)
		}
	}
}

// Adopt re-establishes the calling goroutine's association from a
// context.Context carrying a frame holder created by WithFrame
// elsewhere — the escape hatch for an explicit goroutine handoff (e.g.
// a worker pool that receives ctx but not the parent's stack). Returns
// false if ctx carries no holder.
func (b *ContextBackend) Adopt(ctx context.Context) (func(), bool) {
	holder, ok := ctx.Value(contextKey{}).(*frameHolder)
	if !ok {
		return nil, false
	}
	key := goroutineKey()
	prev, hadPrev := b.holders.Load(key)
	b.holders.Store(key, holder)
	return func() {
		if hadPrev {
			b.holders.Store(key, prev)
		} else {
			b.holders.Delete(key)
		}
	}, true
}

func (b *ContextBackend) activeHolder() (*frameHolder, bool) {
	v, ok := b.holders.Load(goroutineKey())
	if !ok {
		return nil, false
	}
	return v.(*frameHolder), true
}

// Get implements Backend by reading the calling goroutine's active
// holder, if one has been established via WithFrame or Adopt.
func (b *ContextBackend) Get() (*Frame, bool) {
	holder, ok := b.activeHolder()
	if !ok {
		return nil, false
	}
	holder.mu.Lock()
	defer holder.mu.Unlock()
	if holder.frame == nil {
		return nil, false
	}
	return holder.frame, true
}

func (b *ContextBackend) Set(f *Frame) {
	holder, ok := b.activeHolder()
	if !ok {
		return
	}
	holder.mu.Lock()
	holder.frame = f
	holder.mu.Unlock()
}

// FrameFromContext retrieves the frame holder bound to ctx directly —
// usable by diagnostics or tests that want to inspect a request's
// stack without resolving goroutine identity at all.
func FrameFromContext(ctx context.Context) (*Frame, bool) {
	holder, ok := ctx.Value(contextKey{}).(*frameHolder)
	if !ok {
		return nil, false
	}
	holder.mu.Lock()
	defer holder.mu.Unlock()
	if holder.frame == nil {
		return nil, false
	}
	return holder.frame, true
}

// NewGoroutineBackend exposes the default backend constructor for the
// Registry's zero-value wiring.
func NewGoroutineBackend() Backend { return newGoroutineBackend() }
