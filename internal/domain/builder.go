package domain

import (
	"context"
)

// BuildRequest carries everything a builder needs for one entrypoint
type BuildRequest struct {
	// Files is the full project file set, paths relative to WorkPath
	Files []string

	// Entrypoint is the entry file's path relative to the project root
	Entrypoint string

	// WorkPath is the absolute project root path
	WorkPath string

	// Config is the build rule's opaque config map
	Config map[string]interface{}
}

// Builder transforms source files matching a glob into one or more
// deployable artifacts
type Builder interface {
	// Name returns the builder's registry identifier
	Name() string

	// Install prepares the builder for use. It must be idempotent;
	// the registry guarantees at most one call per lifetime anyway.
	Install(ctx context.Context) error

	// Build produces a partial artifact map for one entrypoint
	Build(ctx context.Context, req BuildRequest) (ArtifactMap, error)
}

// Launcher is the invocable handle behind a packaged function. Payloads
// and results are serialized invocation structures (see internal/invoke).
type Launcher interface {
	// Invoke runs the function with the serialized payload and returns
	// the serialized result
	Invoke(ctx context.Context, payload []byte) ([]byte, error)

	// Destroy releases the underlying execution resource
	Destroy(ctx context.Context) error
}

// LauncherFactory provisions a launcher for a packaged function.
// Builders that emit Lambda artifacts receive one at construction.
type LauncherFactory interface {
	Provision(ctx context.Context, fn *Lambda) (Launcher, error)
}
