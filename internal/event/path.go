package event

import "strings"

const deletedSuffix = " (deleted)"

// SanitizeDPath strips a trailing " (deleted)" suffix the kernel's d_path
// helper appends to a path whose dentry has been unlinked, but only from the
// final path component — never from an intermediate directory name that
// happens to end the same way.
func SanitizeDPath(p string) string {
	idx := strings.LastIndexByte(p, '/')
	prefix, base := "", p
	if idx >= 0 {
		prefix, base = p[:idx+1], p[idx+1:]
	}
	return prefix + strings.TrimSuffix(base, deletedSuffix)
}

// PathPrefixKey builds the LPM-trie key for p: the raw path bytes truncated
// to LPMSizeMax, together with the bit length the trie should match on.
func PathPrefixKey(p string) (key []byte, bitLen int) {
	b := []byte(p)
	if len(b) > LPMSizeMax {
		b = b[:LPMSizeMax]
	}
	return b, len(b) * 8
}
