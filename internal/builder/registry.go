package builder

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/utkarshkpal/now-cli/internal/domain"
	"github.com/utkarshkpal/now-cli/internal/logger"
)

// Registry caches builder installation. A builder is installed at most
// once per registry lifetime no matter how many build rules reference
// it; a second Install call for the same name is a no-op.
type Registry struct {
	mu        sync.RWMutex
	available map[string]domain.Builder
	installed map[string]bool
}

// NewRegistry creates a registry with the given builders available
func NewRegistry(builders ...domain.Builder) (*Registry, error) {
	r := &Registry{
		available: make(map[string]domain.Builder),
		installed: make(map[string]bool),
	}

	for _, b := range builders {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Register makes a builder available for installation
func (r *Registry) Register(b domain.Builder) error {
	if b == nil {
		return fmt.Errorf("builder cannot be nil")
	}

	if b.Name() == "" {
		return fmt.Errorf("builder name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.available[b.Name()]; exists {
		return fmt.Errorf("builder %s already registered", b.Name())
	}

	r.available[b.Name()] = b
	return nil
}

// Install loads the builder named by use (pin suffix allowed). Already
// installed builders are not reinstalled.
func (r *Registry) Install(ctx context.Context, use string) error {
	name, version, err := ParsePin(use)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.available[name]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrBuilderUnknown, name)
	}

	if r.installed[name] {
		logger.Debug("Builder already installed", "builder", name)
		return nil
	}

	if err := b.Install(ctx); err != nil {
		return fmt.Errorf("failed to install builder %s: %w", name, err)
	}

	r.installed[name] = true
	logger.Info("Builder installed", "builder", name, "pin", version)
	return nil
}

// Get returns an installed builder for use
func (r *Registry) Get(use string) (domain.Builder, error) {
	name, _, err := ParsePin(use)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.available[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrBuilderUnknown, name)
	}

	if !r.installed[name] {
		return nil, fmt.Errorf("builder %s not installed", name)
	}

	return b, nil
}

// ParsePin splits a builder reference into name and optional version
// pin. Scoped names keep their leading @: "@now/node@1.2.0" pins
// "@now/node" to "1.2.0". The pin must be a valid semantic version.
func ParsePin(use string) (name, version string, err error) {
	if use == "" {
		return "", "", fmt.Errorf("builder reference cannot be empty")
	}

	idx := strings.LastIndex(use, "@")
	if idx <= 0 {
		return use, "", nil
	}

	name, version = use[:idx], use[idx+1:]
	if version == "" {
		return "", "", fmt.Errorf("builder reference %q has an empty version pin", use)
	}

	if _, err := semver.NewVersion(version); err != nil {
		return "", "", fmt.Errorf("builder reference %q has an invalid version pin: %w", use, err)
	}

	return name, version, nil
}
