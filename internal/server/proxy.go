package server

import (
	"bytes"
	"io"
	"net/http"
	"net/url"

	"github.com/utkarshkpal/now-cli/internal/logger"
)

// serveProxy forwards the request to an absolute-URL destination and
// streams the response back, with the host header rewritten to the
// target the way a transparent proxy pass would
func (s *DevServer) serveProxy(w http.ResponseWriter, r *http.Request, target string) string {
	targetURL, err := url.Parse(target)
	if err != nil {
		s.fail(w, target, err)
		return outcomeError
	}
	if r.URL.RawQuery != "" && targetURL.RawQuery == "" {
		targetURL.RawQuery = r.URL.RawQuery
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return outcomeError
	}

	req, err := http.NewRequestWithContext(
		r.Context(),
		r.Method,
		targetURL.String(),
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		s.fail(w, target, err)
		return outcomeError
	}

	for key, values := range r.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	req.Host = targetURL.Host
	req.Header.Set("X-Forwarded-For", r.RemoteAddr)
	req.Header.Set("X-Forwarded-By", "now-dev")

	resp, err := s.proxyClient.Do(req)
	if err != nil {
		logger.Error("Proxy target unavailable", "target", target, "error", err)
		http.Error(w, "Upstream unavailable", http.StatusBadGateway)
		return outcomeError
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
	return outcomeProxy
}
