//go:build !unix

package collector

// openFilesLimit has no meaningful equivalent off Unix platforms.
func openFilesLimit() (uint64, bool) {
	return 0, false
}
