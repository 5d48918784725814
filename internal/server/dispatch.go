package server

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/utkarshkpal/now-cli/internal/assets"
	"github.com/utkarshkpal/now-cli/internal/domain"
	"github.com/utkarshkpal/now-cli/internal/invoke"
	"github.com/utkarshkpal/now-cli/internal/logger"
	"github.com/utkarshkpal/now-cli/pkg/utils"
)

// Dispatch outcomes, used as the metrics label
const (
	outcomeStatic   = "static"
	outcomeProxy    = "proxy"
	outcomeRedirect = "redirect"
	outcomeInvoke   = "invoke"
	outcomeBusy     = "busy"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
)

// handleRequest is the dispatch glue: busy gate, route match, asset
// resolution, then static / proxy / redirect / invoke.
func (s *DevServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := utils.GenerateID()
	w.Header().Set("x-now-id", requestID)

	outcome := outcomeError
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("unexpected error: %v", rec)
			logger.Error("Request panicked",
				"request_id", requestID,
				"path", r.URL.Path,
				"error", msg,
			)
			s.state.SetError(msg)
			http.Error(w, msg, http.StatusInternalServerError)
			outcome = outcomeError
		}
		s.recordRequest(outcome, start)
	}()

	if state := s.state.Current(); state.Kind == StateBusy {
		s.writeBusy(w, state)
		outcome = outcomeBusy
		return
	}

	// A stored failure is reported once, then the server moves on
	if msg, ok := s.state.TakeError(); ok {
		logger.Error("Recovered from previous failure", "error", msg)
	}

	outcome = s.dispatch(w, r, requestID)
}

func (s *DevServer) dispatch(w http.ResponseWriter, r *http.Request, requestID string) string {
	if s.cfg == nil {
		return s.serveStaticTree(w, r)
	}

	result := s.matcher.Match(r.URL.Path, r.Method)

	for k, v := range result.Headers {
		w.Header().Set(k, v)
	}

	if result.Redirect() {
		// Redirects end with no body; Location comes from whatever
		// headers the rules accumulated
		w.WriteHeader(result.Status)
		return outcomeRedirect
	}

	if result.External {
		return s.serveProxy(w, r, result.Dest)
	}

	// A dest template may append its own query; it belongs on the
	// invocation path, never in the artifact key
	dest, query := splitDestQuery(result.Dest)
	if r.URL.RawQuery != "" {
		if query != "" {
			query += "&" + r.URL.RawQuery
		} else {
			query = r.URL.RawQuery
		}
	}

	artifact, ok := assets.Resolve(s.currentArtifacts(), dest)
	if !ok {
		if len(s.cfg.Builds) == 0 {
			// Routes without builds: the rewritten destination is
			// served straight from the project tree
			return s.serveProjectFile(w, r, dest, result.Status)
		}
		http.Error(w, fmt.Sprintf("NOT_FOUND: /%s", dest), http.StatusNotFound)
		return outcomeNotFound
	}

	switch a := artifact.(type) {
	case domain.FileRef:
		return s.serveFile(w, a.Path, result.Status)
	case *domain.Lambda:
		return s.serveInvoke(w, r, dest, query, a, result.Status)
	default:
		s.fail(w, requestID, fmt.Errorf("unknown artifact kind %q", artifact.Kind()))
		return outcomeError
	}
}

func splitDestQuery(dest string) (string, string) {
	if idx := strings.Index(dest, "?"); idx >= 0 {
		return dest[:idx], dest[idx+1:]
	}
	return dest, ""
}

// serveStaticTree is the fallback when the project has no build
// configuration: raw filesystem serving with the ignore list applied
func (s *DevServer) serveStaticTree(w http.ResponseWriter, r *http.Request) string {
	rel := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")

	if s.ignored(rel) {
		http.NotFound(w, r)
		return outcomeNotFound
	}

	http.FileServer(http.Dir(s.projectRoot)).ServeHTTP(w, r)
	return outcomeStatic
}

// serveProjectFile serves a route-resolved destination from the
// project tree, honoring the accumulated route status. Directory
// destinations fall back to their index.html.
func (s *DevServer) serveProjectFile(w http.ResponseWriter, r *http.Request, dest string, status int) string {
	rel := strings.TrimSuffix(dest, "/")

	if s.ignored(rel) {
		http.NotFound(w, r)
		return outcomeNotFound
	}

	abs := filepath.Join(s.projectRoot, filepath.FromSlash(rel))
	if info, err := os.Stat(abs); rel == "" || (err == nil && info.IsDir()) {
		abs = filepath.Join(abs, "index.html")
	}

	return s.serveFile(w, abs, status)
}

// serveFile streams one built file with the route-resolved status
func (s *DevServer) serveFile(w http.ResponseWriter, filePath string, status int) string {
	f, err := os.Open(filePath)
	if err != nil {
		http.Error(w, fmt.Sprintf("NOT_FOUND: %s", path.Base(filePath)), http.StatusNotFound)
		return outcomeNotFound
	}
	defer f.Close()

	if w.Header().Get("Content-Type") == "" {
		if ct := mime.TypeByExtension(path.Ext(filePath)); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
	}

	w.WriteHeader(status)
	io.Copy(w, f)
	return outcomeStatic
}

// serveInvoke adapts the HTTP request into an invocation payload,
// calls the function package and writes its result back
func (s *DevServer) serveInvoke(
	w http.ResponseWriter,
	r *http.Request,
	dest string,
	query string,
	fn *domain.Lambda,
	routeStatus int,
) string {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return outcomeError
	}

	headers := make(map[string]string, len(r.Header))
	for k, values := range r.Header {
		headers[k] = strings.Join(values, ", ")
	}

	invokePath := "/" + dest
	if query != "" {
		invokePath += "?" + query
	}

	start := time.Now()
	result, err := invoke.Invoke(r.Context(), dest, fn, invoke.Request{
		Method:  r.Method,
		Path:    invokePath,
		Headers: headers,
		Body:    body,
	})
	s.recordInvocation(err == nil, start)

	if err != nil {
		s.fail(w, dest, err)
		return outcomeError
	}

	for k, v := range result.Headers {
		w.Header().Set(k, v)
	}

	payload, err := result.DecodeBody()
	if err != nil {
		s.fail(w, dest, err)
		return outcomeError
	}

	status := result.StatusCode
	if status == 0 {
		status = routeStatus
	}
	w.WriteHeader(status)
	w.Write(payload)
	return outcomeInvoke
}

// fail converts a request failure into the Error state plus a 500
// response; the next request resets the state back to Idle
func (s *DevServer) fail(w http.ResponseWriter, subject string, err error) {
	logger.Error("Request failed", "subject", subject, "error", err)
	s.state.SetError(err.Error())
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *DevServer) recordRequest(outcome string, start time.Time) {
	if s.collector != nil {
		s.collector.RecordRequest(outcome, time.Since(start))
	}
}

func (s *DevServer) recordInvocation(success bool, start time.Time) {
	if s.collector != nil {
		s.collector.RecordInvocation(success, time.Since(start))
	}
}
