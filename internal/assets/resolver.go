package assets

import (
	"path"
	"strings"

	"github.com/utkarshkpal/now-cli/internal/domain"
)

// Resolve maps a resolved destination to a built artifact. The
// destination is normalized (leading slash stripped) and looked up
// exactly first. If absent, directory-index semantics apply: a key
// whose trailing "index.<ext>" segment is stripped away must equal the
// destination with any trailing slash removed, so "/api/" resolves to
// "api/index.js" and "/" to "index.html". Keys are scanned in sorted
// order, so among several index candidates the lexicographically
// smallest one wins.
func Resolve(m domain.ArtifactMap, dest string) (domain.Artifact, bool) {
	key := strings.TrimPrefix(dest, "/")

	if artifact, ok := m[key]; ok {
		return artifact, true
	}

	want := strings.TrimSuffix(key, "/")

	for _, k := range m.SortedKeys() {
		if indexDir, ok := indexParent(k); ok && indexDir == want {
			return m[k], true
		}
	}

	return nil, false
}

// indexParent returns the directory a key serves as the index of, if
// its last segment looks like "index.<ext>"
func indexParent(key string) (string, bool) {
	base := path.Base(key)
	if !strings.HasPrefix(base, "index.") || base == "index." {
		return "", false
	}

	dir := path.Dir(key)
	if dir == "." {
		return "", true
	}
	return dir, true
}
