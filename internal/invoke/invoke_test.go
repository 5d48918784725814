package invoke

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/utkarshkpal/now-cli/internal/domain"
)

// fakeLauncher records the payload it receives and returns a canned
// result
type fakeLauncher struct {
	got    Payload
	result string
	err    error
}

func (l *fakeLauncher) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	if err := json.Unmarshal(payload, &l.got); err != nil {
		return nil, err
	}
	if l.err != nil {
		return nil, l.err
	}
	return []byte(l.result), nil
}

func (l *fakeLauncher) Destroy(ctx context.Context) error { return nil }

func TestInvoke_PayloadShape(t *testing.T) {
	l := &fakeLauncher{result: `{"statusCode":200,"headers":{},"body":"ok"}`}
	fn := &domain.Lambda{Handler: "api/hello.js", Runtime: "nodejs20", Launcher: l}

	_, err := Invoke(context.Background(), "/api/hello", fn, Request{
		Method:  "POST",
		Path:    "/api/hello",
		Headers: map[string]string{"content-type": "application/json"},
		Body:    []byte(`{"name":"now"}`),
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if l.got.Method != "POST" {
		t.Errorf("Expected method POST, got %q", l.got.Method)
	}
	if l.got.Path != "/api/hello" {
		t.Errorf("Expected path /api/hello, got %q", l.got.Path)
	}
	if l.got.Headers["content-type"] != "application/json" {
		t.Errorf("Expected headers forwarded, got %v", l.got.Headers)
	}
	if l.got.Encoding != EncodingBase64 {
		t.Errorf("Expected base64 body encoding, got %q", l.got.Encoding)
	}

	body, err := base64.StdEncoding.DecodeString(l.got.Body)
	if err != nil {
		t.Fatalf("Payload body is not valid base64: %v", err)
	}
	if string(body) != `{"name":"now"}` {
		t.Errorf("Unexpected payload body: %s", body)
	}
}

func TestInvoke_Base64ResultRoundTrip(t *testing.T) {
	l := &fakeLauncher{
		result: `{"statusCode":201,"headers":{"content-type":"application/json"},"encoding":"base64","body":"eyJlaXlvIjp0cnVlfQ=="}`,
	}
	fn := &domain.Lambda{Handler: "api/hello.js", Launcher: l}

	result, err := Invoke(context.Background(), "/api/hello", fn, Request{Method: "GET", Path: "/api/hello"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if result.StatusCode != 201 {
		t.Errorf("Expected status 201, got %d", result.StatusCode)
	}
	if result.Headers["content-type"] != "application/json" {
		t.Errorf("Unexpected result headers: %v", result.Headers)
	}

	body, err := result.DecodeBody()
	if err != nil {
		t.Fatalf("DecodeBody failed: %v", err)
	}
	if string(body) != `{"eiyo":true}` {
		t.Errorf("Expected decoded JSON body, got %s", body)
	}
}

func TestInvoke_WithoutLauncher(t *testing.T) {
	fn := &domain.Lambda{Handler: "api/hello.js"}

	_, err := Invoke(context.Background(), "/api/hello", fn, Request{Method: "GET", Path: "/api/hello"})
	if !errors.Is(err, domain.ErrNotInvocable) {
		t.Fatalf("Expected ErrNotInvocable, got %v", err)
	}

	var invErr *domain.InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("Expected an InvocationError, got %T", err)
	}
	if invErr.Path != "/api/hello" {
		t.Errorf("Expected the request path on the error, got %q", invErr.Path)
	}
}

func TestInvoke_LauncherFailure(t *testing.T) {
	boom := errors.New("container died")
	fn := &domain.Lambda{Handler: "api/hello.js", Launcher: &fakeLauncher{err: boom}}

	_, err := Invoke(context.Background(), "/api/hello", fn, Request{Method: "GET", Path: "/api/hello"})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the launcher error wrapped, got %v", err)
	}
}

func TestInvoke_MalformedResult(t *testing.T) {
	fn := &domain.Lambda{Handler: "api/hello.js", Launcher: &fakeLauncher{result: "not json"}}

	if _, err := Invoke(context.Background(), "/api/hello", fn, Request{Method: "GET", Path: "/api/hello"}); err == nil {
		t.Fatal("Expected a parse error for a malformed result")
	}
}

func TestResult_DecodeBody(t *testing.T) {
	t.Run("plain text body", func(t *testing.T) {
		r := &Result{Body: "hello"}
		body, err := r.DecodeBody()
		if err != nil {
			t.Fatalf("DecodeBody failed: %v", err)
		}
		if string(body) != "hello" {
			t.Errorf("Expected body unchanged, got %s", body)
		}
	})

	t.Run("invalid base64 with base64 tag", func(t *testing.T) {
		r := &Result{Encoding: EncodingBase64, Body: "!!not-base64!!"}
		if _, err := r.DecodeBody(); err == nil {
			t.Error("Expected an error when the tag and body disagree")
		}
	})
}
