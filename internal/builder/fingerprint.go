package builder

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Fingerprint hashes one build input: the entry file's content, the
// builder reference and the rule's config. Two runs over unchanged
// inputs produce the same fingerprint, which is what lets the
// orchestrator skip rebuilding untouched entries.
func Fingerprint(workPath, entry, use string, config map[string]interface{}) (string, error) {
	h := blake3.New()

	h.Write([]byte(use))
	h.Write([]byte{0})
	h.Write([]byte(entry))
	h.Write([]byte{0})

	if len(config) > 0 {
		// json.Marshal sorts map keys, so the config hash is stable
		cfg, err := json.Marshal(config)
		if err != nil {
			return "", err
		}
		h.Write(cfg)
	}
	h.Write([]byte{0})

	f, err := os.Open(filepath.Join(workPath, filepath.FromSlash(entry)))
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
