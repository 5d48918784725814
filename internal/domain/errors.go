package domain

import (
	"fmt"
)

type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func NewDomainError(msg string) *DomainError {
	return &DomainError{Message: msg}
}

var (
	ErrEmptyBuildSrc  = NewDomainError("build rule src cannot be empty")
	ErrEmptyBuildUse  = NewDomainError("build rule use cannot be empty")
	ErrEmptyRouteSrc  = NewDomainError("route rule src cannot be empty")
	ErrNotInvocable   = NewDomainError("function package has no invocable handle")
	ErrBuilderUnknown = NewDomainError("builder not registered")
)

// BuildError identifies which rule and entry aborted an orchestration run
type BuildError struct {
	Rule  BuildRule
	Entry string
	Err   error
}

func (e *BuildError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf(
			"build failed for %q (use %s) at entry %s: %v",
			e.Rule.Src,
			e.Rule.Use,
			e.Entry,
			e.Err,
		)
	}
	return fmt.Sprintf(
		"build failed for %q (use %s): %v",
		e.Rule.Src,
		e.Rule.Use,
		e.Err,
	)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// InvocationError wraps a failed function invocation
type InvocationError struct {
	Path string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invocation of %s failed: %v", e.Path, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
