package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPkgFrom_IncludesCorrelation(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTests(&buf)
	defer restore()

	ctx := WithCorrelation(context.Background(), Correlation{RunID: "run-1", TestName: "TestX"})
	ctx = WithCorrelation(ctx, Correlation{SessionID: "abc"})
	PkgFrom(ctx, "guitest").Info("hello")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, buf.String())
	}
	for key, want := range map[string]string{"run_id": "run-1", "test": "TestX", "session_id": "abc", "msg": "hello", "pkg": "guitest"} {
		if line[key] != want {
			t.Errorf("%s = %v, want %q", key, line[key], want)
		}
	}
}

func TestNewRunID_Unique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b || !strings.HasPrefix(a, "run-") {
		t.Fatalf("unexpected run ids %q %q", a, b)
	}
}

func TestTransport_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTests(&buf)
	defer restore()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewHTTPClient("test", 0)
	target := strings.Replace(srv.URL, "http://", "http://alice:s3cr3t@", 1)
	resp, err := client.Get(target)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	out := buf.String()
	if strings.Contains(out, "s3cr3t") {
		t.Fatalf("password leaked into logs: %s", out)
	}
	if !strings.Contains(out, "outbound request rejected") || !strings.Contains(out, `"status":401`) {
		t.Fatalf("expected rejected request log, got: %s", out)
	}
}
