package domain

import (
	"net/http"
	"strings"
)

// BuildRule declares which builder transforms which source files
type BuildRule struct {
	// Src is a glob pattern matched against the project file tree
	Src string `json:"src"`

	// Use names the builder, optionally pinned: "now-node" or "now-node@1.2.0"
	Use string `json:"use"`

	// Config is passed through to the builder untouched
	Config map[string]interface{} `json:"config,omitempty"`
}

func (r *BuildRule) Validate() error {
	if r.Src == "" {
		return ErrEmptyBuildSrc
	}

	if r.Use == "" {
		return ErrEmptyBuildUse
	}

	return nil
}

// RouteRule is a declarative pattern-to-destination mapping. Rules are
// ordered; each may rewrite the path produced by the previous rule or
// terminate matching with a redirect status or an absolute URL dest.
type RouteRule struct {
	// Src is a regular expression matched against the request path
	// without its leading slash
	Src string `json:"src"`

	// Dest is the rewrite target; capture references ($1, $2, ...) are
	// substituted from Src. An absolute URL means reverse proxy.
	Dest string `json:"dest,omitempty"`

	// Methods restricts the rule to the listed HTTP methods
	Methods []string `json:"methods,omitempty"`

	// Headers are merged into the accumulated response header set
	Headers map[string]string `json:"headers,omitempty"`

	// Status overrides the response status; 301/302/303 terminate matching
	Status int `json:"status,omitempty"`
}

func (r *RouteRule) Validate() error {
	if r.Src == "" {
		return ErrEmptyRouteSrc
	}

	return nil
}

// AllowsMethod reports whether the rule applies to the given HTTP method.
// An empty Methods list allows everything.
func (r *RouteRule) AllowsMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}

	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}

	return false
}

// IsRedirectStatus reports whether status is one of the redirect codes
// that terminate route matching
func IsRedirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther:
		return true
	}
	return false
}
