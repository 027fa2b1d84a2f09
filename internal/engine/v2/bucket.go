package v2

import "fmt"

// Bucket computes the hash partition a path belongs to (§4.F). The info
// path is pinned to a reserved bucket name so global info writes never
// compete for the same file as hashed entries.
func Bucket(path []string) string {
	if len(path) == 1 && path[0] == "info" {
		return "info"
	}
	hash := 0
	for _, segment := range path {
		h := 0
		for _, b := range []byte(segment) {
			h = (h*19 + int(b)) % 256
		}
		hash = (hash*199 + h) % 256
	}
	return fmt.Sprintf("%02x", hash)
}
