//go:build unix

package collector

import "golang.org/x/sys/unix"

// openFilesLimit reads the soft RLIMIT_NOFILE for this process, the same
// ceiling the kernel applies to the collectors' own file descriptors.
func openFilesLimit() (uint64, bool) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return 0, false
	}
	return limit.Cur, true
}
