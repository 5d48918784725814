package router

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/utkarshkpal/now-cli/internal/domain"
)

// Result is the outcome of matching a request against the route list
type Result struct {
	// Dest is the resolved destination: a normalized path without
	// leading slash, or an absolute URL when External is true
	Dest string

	// Status is the response status accumulated from matching rules
	Status int

	// Headers are the response headers accumulated from matching rules
	Headers map[string]string

	// MatchedIndex is the index of the last rule that matched, -1 when
	// the path passed through untouched
	MatchedIndex int

	// External marks Dest as an absolute URL to reverse-proxy to
	External bool
}

// Redirect reports whether the result terminates with a redirect status
func (r *Result) Redirect() bool {
	return domain.IsRedirectStatus(r.Status)
}

type compiledRule struct {
	rule domain.RouteRule
	re   *regexp.Regexp
}

// Matcher evaluates an ordered route list. Patterns are compiled once
// at construction.
type Matcher struct {
	rules []compiledRule
}

// New compiles the route list. A rule with an invalid regex fails the
// whole matcher; route config errors should surface at startup.
func New(rules []domain.RouteRule) (*Matcher, error) {
	m := &Matcher{rules: make([]compiledRule, 0, len(rules))}

	for i, rule := range rules {
		re, err := regexp.Compile(rule.Src)
		if err != nil {
			return nil, fmt.Errorf(
				"routes[%d]: invalid pattern %q: %w",
				i,
				rule.Src,
				err,
			)
		}
		m.rules = append(m.rules, compiledRule{rule: rule, re: re})
	}

	return m, nil
}

// Match walks the rules top to bottom. Patterns are tested against the
// slash-prefixed current path; the accumulated destination is kept
// normalized without its leading slash. A matching rule rewrites the
// path for the remaining rules (multi-hop), merges its headers and
// records its status. A redirect status or an absolute-URL dest stops
// matching immediately. A path matching no rule passes through with
// status 200 and no headers.
func (m *Matcher) Match(requestPath, requestMethod string) *Result {
	result := &Result{
		Dest:         normalizePath(requestPath),
		Status:       http.StatusOK,
		Headers:      map[string]string{},
		MatchedIndex: -1,
	}

	for i := range m.rules {
		cr := &m.rules[i]

		if !cr.rule.AllowsMethod(requestMethod) {
			continue
		}

		candidate := "/" + result.Dest
		idx := cr.re.FindStringSubmatchIndex(candidate)
		if idx == nil {
			continue
		}

		result.MatchedIndex = i

		for k, v := range cr.rule.Headers {
			result.Headers[k] = v
		}

		if cr.rule.Status != 0 {
			result.Status = cr.rule.Status
		}

		if cr.rule.Dest != "" {
			dest := string(cr.re.ExpandString(nil, cr.rule.Dest, candidate, idx))

			if isAbsoluteURL(dest) {
				result.Dest = dest
				result.External = true
				return result
			}

			result.Dest = normalizePath(dest)
		}

		if domain.IsRedirectStatus(cr.rule.Status) {
			return result
		}
	}

	return result
}

func normalizePath(p string) string {
	return strings.TrimPrefix(p, "/")
}

// An absolute URL in dest signals reverse proxy, never artifact lookup
func isAbsoluteURL(dest string) bool {
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
