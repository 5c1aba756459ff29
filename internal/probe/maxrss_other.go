//go:build !unix

package probe

// maxRSS is unavailable outside unix; the field is simply absent from
// snapshots on these platforms, per spec.md §4.3.
func maxRSS() (uint64, bool) { return 0, false }
