//go:build linux

package probe

// Linux reports ru_maxrss in kilobytes.
const rssScale = 1024
