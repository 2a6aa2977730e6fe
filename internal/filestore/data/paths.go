package data

import (
	"fmt"
	"path"
	"strings"
)

// cleanPath normalizes a relative slash path and rejects absolute or escaping ones
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", fmt.Errorf("invalid blob path %q", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("blob path %q escapes storage root", p)
	}
	return clean, nil
}
