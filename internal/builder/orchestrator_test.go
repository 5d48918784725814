package builder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/utkarshkpal/now-cli/internal/builder"
	"github.com/utkarshkpal/now-cli/internal/cache"
	"github.com/utkarshkpal/now-cli/internal/domain"
)

// fakeBuilder counts installs and builds and delegates artifact
// production to buildFn
type fakeBuilder struct {
	name     string
	mu       sync.Mutex
	installs int
	builds   []string
	buildFn  func(req domain.BuildRequest) (domain.ArtifactMap, error)
}

func (f *fakeBuilder) Name() string { return f.name }

func (f *fakeBuilder) Install(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs++
	return nil
}

func (f *fakeBuilder) Build(ctx context.Context, req domain.BuildRequest) (domain.ArtifactMap, error) {
	f.mu.Lock()
	f.builds = append(f.builds, req.Entrypoint)
	f.mu.Unlock()

	if f.buildFn != nil {
		return f.buildFn(req)
	}
	return domain.ArtifactMap{
		req.Entrypoint: domain.FileRef{
			Path: filepath.Join(req.WorkPath, filepath.FromSlash(req.Entrypoint)),
		},
	}, nil
}

func (f *fakeBuilder) installCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installs
}

func (f *fakeBuilder) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.builds)
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", rel, err)
		}
	}
	return dir
}

func newOrchestrator(t *testing.T, c cache.Cache, builders ...domain.Builder) *builder.Orchestrator {
	t.Helper()
	reg, err := builder.NewRegistry(builders...)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	return builder.New(reg, c, nil)
}

// runBuild mirrors the server's two-phase flow: install the referenced
// builders, then build
func runBuild(
	t *testing.T,
	o *builder.Orchestrator,
	rules []domain.BuildRule,
	dir string,
	env map[string]string,
) (domain.ArtifactMap, error) {
	t.Helper()
	if err := o.InstallAll(context.Background(), rules); err != nil {
		return nil, err
	}
	return o.Build(context.Background(), rules, dir, env)
}

func TestOrchestrator_GlobExpansion(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"index.html":    "<html>",
		"about.html":    "<html>",
		"notes.txt":     "notes",
		"api/hello.js":  "module.exports = () => {}",
		"api/nested.js": "module.exports = () => {}",
	})

	fb := &fakeBuilder{name: "fake-static"}
	o := newOrchestrator(t, nil, fb)

	artifacts, err := runBuild(t, o, []domain.BuildRule{
		{Src: "*.html", Use: "fake-static"},
		{Src: "api/**/*.js", Use: "fake-static"},
	}, dir, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for _, key := range []string{"index.html", "about.html", "api/hello.js", "api/nested.js"} {
		if _, ok := artifacts[key]; !ok {
			t.Errorf("Expected artifact %q, have %v", key, artifacts.SortedKeys())
		}
	}
	if _, ok := artifacts["notes.txt"]; ok {
		t.Error("notes.txt should not match any rule")
	}
}

func TestOrchestrator_InstallsPluginOnce(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"a.html": "a",
		"b.css":  "b",
	})

	fb := &fakeBuilder{name: "fake-static"}
	o := newOrchestrator(t, nil, fb)

	// Two rules referencing the same builder, one with a version pin
	_, err := runBuild(t, o, []domain.BuildRule{
		{Src: "*.html", Use: "fake-static"},
		{Src: "*.css", Use: "fake-static@1.0.0"},
	}, dir, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if fb.installCount() != 1 {
		t.Errorf("Expected exactly one install, got %d", fb.installCount())
	}

	// A second run does not reinstall
	if _, err := runBuild(t, o, []domain.BuildRule{
		{Src: "*.html", Use: "fake-static"},
	}, dir, nil); err != nil {
		t.Fatalf("Second build failed: %v", err)
	}
	if fb.installCount() != 1 {
		t.Errorf("Expected install cached across runs, got %d installs", fb.installCount())
	}
}

func TestOrchestrator_LastBuildWins(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"page.html": "page",
	})

	first := &fakeBuilder{name: "first", buildFn: func(req domain.BuildRequest) (domain.ArtifactMap, error) {
		return domain.ArtifactMap{"out": domain.FileRef{Path: "/from-first"}}, nil
	}}
	second := &fakeBuilder{name: "second", buildFn: func(req domain.BuildRequest) (domain.ArtifactMap, error) {
		return domain.ArtifactMap{"out": domain.FileRef{Path: "/from-second"}}, nil
	}}

	o := newOrchestrator(t, nil, first, second)

	artifacts, err := runBuild(t, o, []domain.BuildRule{
		{Src: "*.html", Use: "first"},
		{Src: "*.html", Use: "second"},
	}, dir, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ref, ok := artifacts["out"].(domain.FileRef)
	if !ok {
		t.Fatal("Expected artifact under colliding key")
	}
	if ref.Path != "/from-second" {
		t.Errorf("Expected later rule to win, got %q", ref.Path)
	}
}

func TestOrchestrator_FailureAbortsRun(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"good.html": "ok",
		"bad.html":  "boom",
	})

	boom := errors.New("builder exploded")
	fb := &fakeBuilder{name: "flaky", buildFn: func(req domain.BuildRequest) (domain.ArtifactMap, error) {
		if req.Entrypoint == "bad.html" {
			return nil, boom
		}
		return domain.ArtifactMap{req.Entrypoint: domain.FileRef{Path: "/x"}}, nil
	}}

	o := newOrchestrator(t, nil, fb)

	artifacts, err := runBuild(t, o, []domain.BuildRule{
		{Src: "*.html", Use: "flaky"},
	}, dir, nil)

	if err == nil {
		t.Fatal("Expected the run to fail")
	}
	if artifacts != nil {
		t.Error("Expected no partial artifact map on failure")
	}

	var buildErr *domain.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("Expected a BuildError, got %T", err)
	}
	if buildErr.Entry != "bad.html" {
		t.Errorf("Expected failing entry bad.html, got %q", buildErr.Entry)
	}
	if !errors.Is(err, boom) {
		t.Error("Expected the underlying error to be wrapped")
	}
}

func TestOrchestrator_BuildDoesNotInstall(t *testing.T) {
	dir := writeProject(t, map[string]string{"a.html": "a"})
	fb := &fakeBuilder{name: "fake-static"}
	o := newOrchestrator(t, nil, fb)

	rules := []domain.BuildRule{{Src: "*.html", Use: "fake-static"}}

	if _, err := o.Build(context.Background(), rules, dir, nil); err == nil {
		t.Fatal("Expected building without an install phase to fail")
	}
	if fb.installCount() != 0 {
		t.Errorf("Expected no implicit installs from Build, got %d", fb.installCount())
	}
	if fb.buildCount() != 0 {
		t.Errorf("Expected no builder invocations, got %d", fb.buildCount())
	}
}

func TestOrchestrator_UnknownBuilder(t *testing.T) {
	dir := writeProject(t, map[string]string{"a.html": "a"})
	o := newOrchestrator(t, nil)

	_, err := runBuild(t, o, []domain.BuildRule{
		{Src: "*.html", Use: "no-such-builder"},
	}, dir, nil)

	if !errors.Is(err, domain.ErrBuilderUnknown) {
		t.Fatalf("Expected ErrBuilderUnknown, got %v", err)
	}
}

func TestOrchestrator_CacheSkipsUnchangedEntry(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"page.html": "page",
	})

	fb := &fakeBuilder{name: "fake-static"}
	o := newOrchestrator(t, cache.NewMemoryCache(0), fb)
	rules := []domain.BuildRule{{Src: "*.html", Use: "fake-static"}}

	if _, err := runBuild(t, o, rules, dir, nil); err != nil {
		t.Fatalf("First build failed: %v", err)
	}
	if fb.buildCount() != 1 {
		t.Fatalf("Expected one builder invocation, got %d", fb.buildCount())
	}

	artifacts, err := runBuild(t, o, rules, dir, nil)
	if err != nil {
		t.Fatalf("Second build failed: %v", err)
	}

	if fb.buildCount() != 1 {
		t.Errorf("Expected cached build to skip the builder, got %d invocations", fb.buildCount())
	}
	if _, ok := artifacts["page.html"]; !ok {
		t.Error("Expected cached artifact in the map")
	}

	// Changing the file invalidates the fingerprint
	if err := os.WriteFile(filepath.Join(dir, "page.html"), []byte("changed"), 0644); err != nil {
		t.Fatalf("Failed to rewrite file: %v", err)
	}
	if _, err := runBuild(t, o, rules, dir, nil); err != nil {
		t.Fatalf("Third build failed: %v", err)
	}
	if fb.buildCount() != 2 {
		t.Errorf("Expected changed entry to rebuild, got %d invocations", fb.buildCount())
	}
}

func TestOrchestrator_ProjectEnvOnFunctions(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"api/hello.js": "module.exports = () => {}",
	})

	fb := &fakeBuilder{name: "fake-node", buildFn: func(req domain.BuildRequest) (domain.ArtifactMap, error) {
		return domain.ArtifactMap{
			req.Entrypoint: &domain.Lambda{
				Handler:     req.Entrypoint,
				Runtime:     "nodejs20",
				Environment: map[string]string{"OWN": "1"},
			},
		}, nil
	}}

	o := newOrchestrator(t, nil, fb)

	artifacts, err := runBuild(t, o, []domain.BuildRule{
		{Src: "api/*.js", Use: "fake-node"},
	}, dir, map[string]string{"SHARED": "yes", "OWN": "overridden"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	fn := artifacts["api/hello.js"].(*domain.Lambda)
	if fn.Environment["SHARED"] != "yes" {
		t.Error("Expected project env merged into function environment")
	}
	if fn.Environment["OWN"] != "1" {
		t.Error("Expected builder-set env var to take precedence")
	}
}
