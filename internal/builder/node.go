package builder

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/utkarshkpal/now-cli/internal/domain"
)

// NodeName identifies the Node.js function builder
const NodeName = "now-node"

// DefaultNodeRuntime is used when a rule's config does not pin one
const DefaultNodeRuntime = "nodejs20"

// NodeBuilder packages a JavaScript entrypoint into a function bundle
// and provisions it with an invocable launcher. The bundle contains the
// entry file plus package.json when the project has one.
type NodeBuilder struct {
	factory domain.LauncherFactory
}

// NewNodeBuilder creates a node builder. factory may be nil, in which
// case produced function packages stay unprovisioned (not invocable).
func NewNodeBuilder(factory domain.LauncherFactory) *NodeBuilder {
	return &NodeBuilder{factory: factory}
}

func (b *NodeBuilder) Name() string {
	return NodeName
}

// Install is a no-op: the node builder ships with the server
func (b *NodeBuilder) Install(ctx context.Context) error {
	return nil
}

func (b *NodeBuilder) Build(ctx context.Context, req domain.BuildRequest) (domain.ArtifactMap, error) {
	bundle, err := b.packageBundle(req)
	if err != nil {
		return nil, fmt.Errorf("failed to package %s: %w", req.Entrypoint, err)
	}

	fn := &domain.Lambda{
		Bundle:      bundle,
		Handler:     req.Entrypoint,
		Runtime:     runtimeFromConfig(req.Config),
		Environment: map[string]string{},
	}

	if b.factory != nil {
		l, err := b.factory.Provision(ctx, fn)
		if err != nil {
			return nil, fmt.Errorf("failed to provision %s: %w", req.Entrypoint, err)
		}
		fn.Launcher = l
	}

	return domain.ArtifactMap{
		req.Entrypoint: fn,
	}, nil
}

// packageBundle zips the entry file and, when present, package.json
func (b *NodeBuilder) packageBundle(req domain.BuildRequest) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	include := []string{req.Entrypoint}
	for _, f := range req.Files {
		if f == "package.json" {
			include = append(include, f)
			break
		}
	}

	for _, rel := range include {
		if err := addToZip(zw, req.WorkPath, rel); err != nil {
			zw.Close()
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func addToZip(zw *zip.Writer, workPath, rel string) error {
	f, err := os.Open(filepath.Join(workPath, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(rel)
	if err != nil {
		return err
	}

	_, err = io.Copy(w, f)
	return err
}

func runtimeFromConfig(config map[string]interface{}) string {
	if config != nil {
		if rt, ok := config["runtime"].(string); ok && rt != "" {
			return rt
		}
	}
	return DefaultNodeRuntime
}
