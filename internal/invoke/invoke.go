package invoke

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/utkarshkpal/now-cli/internal/domain"
)

// EncodingBase64 marks a body as base64 text. Request bodies always use
// it for binary-safe transport; results declare whichever encoding the
// function produced.
const EncodingBase64 = "base64"

// Payload is the structured request handed to a packaged function
type Payload struct {
	Method   string            `json:"method"`
	Path     string            `json:"path"`
	Headers  map[string]string `json:"headers"`
	Encoding string            `json:"encoding"`
	Body     string            `json:"body"`
}

// Result is the structured response returned by a packaged function
type Result struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Encoding   string            `json:"encoding,omitempty"`
	Body       string            `json:"body"`
}

// DecodeBody returns the result body as raw bytes, honoring the
// declared encoding. A base64 tag with a body that is not valid base64
// is an error: the tag and the representation must agree.
func (r *Result) DecodeBody() ([]byte, error) {
	if r.Encoding == EncodingBase64 {
		data, err := base64.StdEncoding.DecodeString(r.Body)
		if err != nil {
			return nil, fmt.Errorf("result body is not valid base64: %w", err)
		}
		return data, nil
	}
	return []byte(r.Body), nil
}

// Request carries the parts of an incoming HTTP request a function sees
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Invoke calls a function package's launcher with a synthesized payload
// and parses its result. The artifact must have been provisioned with a
// launcher by a builder; invoking an unbuilt package fails.
func Invoke(ctx context.Context, path string, fn *domain.Lambda, req Request) (*Result, error) {
	if fn.Launcher == nil {
		return nil, &domain.InvocationError{Path: path, Err: domain.ErrNotInvocable}
	}

	payload := Payload{
		Method:   req.Method,
		Path:     req.Path,
		Headers:  req.Headers,
		Encoding: EncodingBase64,
		Body:     base64.StdEncoding.EncodeToString(req.Body),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.InvocationError{
			Path: path,
			Err:  fmt.Errorf("failed to marshal payload: %w", err),
		}
	}

	raw, err := fn.Launcher.Invoke(ctx, data)
	if err != nil {
		return nil, &domain.InvocationError{Path: path, Err: err}
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &domain.InvocationError{
			Path: path,
			Err:  fmt.Errorf("failed to parse invocation result: %w", err),
		}
	}

	return &result, nil
}
