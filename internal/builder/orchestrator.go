package builder

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/utkarshkpal/now-cli/internal/cache"
	"github.com/utkarshkpal/now-cli/internal/domain"
	"github.com/utkarshkpal/now-cli/internal/logger"
)

// CacheMetrics observes build cache effectiveness
type CacheMetrics interface {
	RecordCacheLookup(hit bool)
}

// Orchestrator turns build rules into a published artifact map. A run
// is all-or-nothing: any failing rule aborts it and nothing built so
// far is surfaced, so the previously published map stays authoritative.
type Orchestrator struct {
	registry   *Registry
	buildCache cache.Cache
	metrics    CacheMetrics
}

// New creates an orchestrator. buildCache may be nil to disable
// fingerprint-based build reuse; metrics may be nil.
func New(registry *Registry, buildCache cache.Cache, metrics CacheMetrics) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		buildCache: buildCache,
		metrics:    metrics,
	}
}

// Build expands every rule's src glob against the project tree, invokes
// the rule's builder per entry and merges the partial maps. Colliding
// output paths are overwritten, last build wins. env is the project's
// runtime environment, merged into every function package produced.
// Callers run InstallAll first; building with an uninstalled builder
// fails.
func (o *Orchestrator) Build(
	ctx context.Context,
	rules []domain.BuildRule,
	workPath string,
	env map[string]string,
) (domain.ArtifactMap, error) {
	files, err := listProjectFiles(workPath)
	if err != nil {
		return nil, err
	}

	final := make(domain.ArtifactMap)

	for i := range rules {
		rule := rules[i]

		entries, err := expandGlob(rule.Src, files)
		if err != nil {
			return nil, &domain.BuildError{Rule: rule, Err: err}
		}

		if len(entries) == 0 {
			logger.Warn("Build rule matched no files", "src", rule.Src)
			continue
		}

		b, err := o.registry.Get(rule.Use)
		if err != nil {
			return nil, &domain.BuildError{Rule: rule, Err: err}
		}

		for _, entry := range entries {
			partial, err := o.buildEntry(ctx, b, rule, entry, files, workPath)
			if err != nil {
				return nil, &domain.BuildError{Rule: rule, Entry: entry, Err: err}
			}

			final.Merge(partial)
		}
	}

	applyEnvironment(final, env)

	logger.Info("Build complete", "artifacts", len(final), "rules", len(rules))
	return final, nil
}

// InstallAll loads the distinct set of builders referenced by the
// rules. The registry dedupes, so two rules sharing a builder install
// it once and repeated calls are no-ops.
func (o *Orchestrator) InstallAll(ctx context.Context, rules []domain.BuildRule) error {
	seen := make(map[string]bool)

	for i := range rules {
		name, _, err := ParsePin(rules[i].Use)
		if err != nil {
			return &domain.BuildError{Rule: rules[i], Err: err}
		}

		if seen[name] {
			continue
		}
		seen[name] = true

		if err := o.registry.Install(ctx, rules[i].Use); err != nil {
			return &domain.BuildError{Rule: rules[i], Err: err}
		}
	}

	return nil
}

// buildEntry runs one builder invocation, going through the build
// cache when the entry's fingerprint is known
func (o *Orchestrator) buildEntry(
	ctx context.Context,
	b domain.Builder,
	rule domain.BuildRule,
	entry string,
	files []string,
	workPath string,
) (domain.ArtifactMap, error) {
	var fingerprint string

	if o.buildCache != nil {
		fp, err := Fingerprint(workPath, entry, rule.Use, rule.Config)
		if err != nil {
			return nil, err
		}
		fingerprint = fp

		if cached := o.lookupCached(ctx, fingerprint); cached != nil {
			o.recordCacheLookup(true)
			logger.Debug("Build reused from cache", "entry", entry)
			return cached, nil
		}
		o.recordCacheLookup(false)
	}

	partial, err := b.Build(ctx, domain.BuildRequest{
		Files:      files,
		Entrypoint: entry,
		WorkPath:   workPath,
		Config:     rule.Config,
	})
	if err != nil {
		return nil, err
	}

	if o.buildCache != nil && fingerprint != "" {
		o.storeCached(ctx, fingerprint, partial)
	}

	return partial, nil
}

// lookupCached rebuilds a partial map from a cache hit. Stale entries
// whose files vanished are treated as misses.
func (o *Orchestrator) lookupCached(ctx context.Context, fingerprint string) domain.ArtifactMap {
	cached, err := o.buildCache.Get(ctx, fingerprint)
	if err != nil {
		logger.Warn("Build cache lookup failed", "error", err)
		return nil
	}
	if cached == nil || len(cached.Outputs) == 0 {
		return nil
	}

	partial := make(domain.ArtifactMap, len(cached.Outputs))
	for outputPath, filePath := range cached.Outputs {
		if _, err := os.Stat(filePath); err != nil {
			return nil
		}
		partial[outputPath] = domain.FileRef{Path: filePath}
	}

	return partial
}

// storeCached records a partial map if every artifact in it is a plain
// file. Function packages carry launchers and are never cached.
func (o *Orchestrator) storeCached(ctx context.Context, fingerprint string, partial domain.ArtifactMap) {
	outputs := make(map[string]string, len(partial))
	for outputPath, artifact := range partial {
		ref, ok := artifact.(domain.FileRef)
		if !ok {
			return
		}
		outputs[outputPath] = ref.Path
	}

	if err := o.buildCache.Set(ctx, fingerprint, &cache.CachedBuild{Outputs: outputs}); err != nil {
		logger.Warn("Build cache store failed", "error", err)
	}
}

func (o *Orchestrator) recordCacheLookup(hit bool) {
	if o.metrics != nil {
		o.metrics.RecordCacheLookup(hit)
	}
}

func applyEnvironment(m domain.ArtifactMap, env map[string]string) {
	if len(env) == 0 {
		return
	}

	for _, fn := range m.Lambdas() {
		if fn.Environment == nil {
			fn.Environment = make(map[string]string, len(env))
		}
		for k, v := range env {
			if _, exists := fn.Environment[k]; !exists {
				fn.Environment[k] = v
			}
		}
	}
}

// listProjectFiles walks the project tree and returns sorted
// slash-separated relative paths. Dot directories and node_modules
// never participate in builds.
func listProjectFiles(workPath string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(workPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := d.Name()
		if d.IsDir() {
			if p != workPath && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(workPath, p)
		if err != nil {
			return err
		}

		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// expandGlob matches a build src pattern against the project file set
func expandGlob(pattern string, files []string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}

	var entries []string
	for _, f := range files {
		ok, err := doublestar.Match(pattern, f)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, f)
		}
	}

	return entries, nil
}
