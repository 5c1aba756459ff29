//go:build darwin

package probe

// Darwin reports ru_maxrss in bytes already.
const rssScale = 1
