package domain

import (
	"sort"
)

// ArtifactKind discriminates the artifact variants
type ArtifactKind string

const (
	// KindFileRef is a direct reference to a file on disk
	KindFileRef ArtifactKind = "file"

	// KindLambda is a packaged serverless function
	KindLambda ArtifactKind = "lambda"
)

// Artifact is the output of a builder for one output path: either a
// direct file reference or a packaged function ready for invocation
type Artifact interface {
	Kind() ArtifactKind
}

// FileRef points at a single built file on the local filesystem
type FileRef struct {
	// Path is the absolute filesystem path of the file
	Path string
}

func (FileRef) Kind() ArtifactKind { return KindFileRef }

// Lambda is a packaged serverless function produced by a builder
type Lambda struct {
	// Bundle is the opaque deployment package (zip bytes)
	Bundle []byte

	// Handler is the entry-point identifier inside the bundle
	Handler string

	// Runtime names the execution environment (e.g. nodejs20)
	Runtime string

	// Environment holds env vars passed to the function
	Environment map[string]string

	// Launcher is the invocable handle, attached once the function
	// package has been provisioned. Nil until then.
	Launcher Launcher
}

func (*Lambda) Kind() ArtifactKind { return KindLambda }

// ArtifactMap maps normalized output paths (no leading slash) to
// artifacts. It is built once per orchestration run and replaced
// wholesale; readers never observe partial updates.
type ArtifactMap map[string]Artifact

// SortedKeys returns the output paths in lexicographic order. Lookups
// that scan the map (index fallback) iterate in this order so ties
// resolve deterministically.
func (m ArtifactMap) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge copies all entries of other into m. Colliding keys are
// overwritten: later builds win.
func (m ArtifactMap) Merge(other ArtifactMap) {
	for k, v := range other {
		m[k] = v
	}
}

// Lambdas returns every function package in the map
func (m ArtifactMap) Lambdas() []*Lambda {
	var out []*Lambda
	for _, k := range m.SortedKeys() {
		if l, ok := m[k].(*Lambda); ok {
			out = append(out, l)
		}
	}
	return out
}
