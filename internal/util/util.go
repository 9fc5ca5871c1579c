// Package util holds small shared helpers.
package util

// MaskKey obscures a credential for display and logging, keeping only
// the first and last few characters.
func MaskKey(key string) string {
	switch {
	case len(key) > 12:
		return key[:9] + "..." + key[len(key)-4:]
	case len(key) > 4:
		return key[:2] + "..." + key[len(key)-2:]
	case len(key) > 2:
		return key[:1] + "..." + key[len(key)-1:]
	}
	return key
}
