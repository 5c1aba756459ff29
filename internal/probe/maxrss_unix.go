//go:build unix

package probe

import "syscall"

// maxRSS returns the peak resident set size for this process, in bytes.
// Linux reports ru_maxrss in KB; Darwin reports it in bytes, so the
// platform scale is normalized here.
func maxRSS() (uint64, bool) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, false
	}
	return uint64(ru.Maxrss) * rssScale, true
}
