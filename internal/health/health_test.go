package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/voxwire/voxwire/pkg/types"
)

func get(t *testing.T, handler func(http.ResponseWriter, *http.Request), path string) (*httptest.ResponseRecorder, report) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return rec, body
}

func TestHealthzAliveWhileDisconnected(t *testing.T) {
	h := New(ConnectionChecker(func() types.ConnectionState { return types.ConnReconnecting }))

	rec, body := get(t, h.Healthz, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body.Status != "ok" {
		t.Errorf("body status = %q, want %q", body.Status, "ok")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyzTracksConnectionState(t *testing.T) {
	state := types.ConnConnecting
	h := New(ConnectionChecker(func() types.ConnectionState { return state }))

	rec, body := get(t, h.Readyz, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status while connecting = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if body.Checks["server_connection"] != "fail: connection is connecting" {
		t.Errorf("server_connection = %q", body.Checks["server_connection"])
	}

	state = types.ConnConnected
	rec, body = get(t, h.Readyz, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("status while connected = %d, want %d", rec.Code, http.StatusOK)
	}
	if body.Checks["server_connection"] != "ok" {
		t.Errorf("server_connection = %q, want %q", body.Checks["server_connection"], "ok")
	}
}

func TestReadyzOneFailingCheckFlipsStatus(t *testing.T) {
	h := New(
		ConnectionChecker(func() types.ConnectionState { return types.ConnConnected }),
		Check{Name: "history_dir", Run: func(context.Context) error {
			return errors.New("read-only file system")
		}},
	)

	rec, body := get(t, h.Readyz, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if body.Status != "fail" {
		t.Errorf("body status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["server_connection"] != "ok" {
		t.Errorf("server_connection = %q, want %q", body.Checks["server_connection"], "ok")
	}
	if body.Checks["history_dir"] != "fail: read-only file system" {
		t.Errorf("history_dir = %q", body.Checks["history_dir"])
	}
}

func TestReadyzNoChecksIsReady(t *testing.T) {
	rec, body := get(t, New().Readyz, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body.Status != "ok" {
		t.Errorf("body status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyzHonorsRequestCancellation(t *testing.T) {
	h := New(Check{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHistoryDirChecker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "history")
	c := HistoryDirChecker(dir)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run on fresh dir: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("checker did not create the history dir: %v", err)
	}

	// A file squatting on the path makes the dir unusable.
	blocked := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := HistoryDirChecker(blocked).Run(context.Background()); err == nil {
		t.Error("Run on a non-directory path succeeded, want error")
	}
}

func TestRegisterMountsBothEndpoints(t *testing.T) {
	h := New(ConnectionChecker(func() types.ConnectionState { return types.ConnConnected }))
	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}
