package server

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ignored applies the project ignore list to a normalized request
// path. A pattern matches the path itself or anything under it when
// the pattern names a directory.
func (s *DevServer) ignored(rel string) bool {
	for _, pattern := range s.ignore {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}

		dirPattern := strings.TrimSuffix(pattern, "/") + "/**"
		if ok, err := doublestar.Match(dirPattern, rel); err == nil && ok {
			return true
		}
	}

	return false
}
