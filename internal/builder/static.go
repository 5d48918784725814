package builder

import (
	"context"
	"os"
	"path/filepath"

	"github.com/utkarshkpal/now-cli/internal/domain"
)

// StaticName identifies the passthrough file builder
const StaticName = "now-static"

// StaticBuilder publishes each entry file as-is. Its output path is
// the entry's project-relative path.
type StaticBuilder struct{}

func NewStaticBuilder() *StaticBuilder {
	return &StaticBuilder{}
}

func (b *StaticBuilder) Name() string {
	return StaticName
}

// Install is a no-op: the static builder ships with the server
func (b *StaticBuilder) Install(ctx context.Context) error {
	return nil
}

func (b *StaticBuilder) Build(ctx context.Context, req domain.BuildRequest) (domain.ArtifactMap, error) {
	abs := filepath.Join(req.WorkPath, filepath.FromSlash(req.Entrypoint))

	if _, err := os.Stat(abs); err != nil {
		return nil, err
	}

	return domain.ArtifactMap{
		req.Entrypoint: domain.FileRef{Path: abs},
	}, nil
}
