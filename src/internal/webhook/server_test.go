package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casapps/casbackup/src/internal/config"
	"github.com/casapps/casbackup/src/internal/logging"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs []string
}

func (r *recordingRunner) Backup(ctx context.Context, acc config.Account, repo, event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, acc.Name+"/"+repo+"@"+event)
	return nil
}

func (r *recordingRunner) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

func newTestServer(t *testing.T) (*Server, *recordingRunner) {
	t.Helper()

	log, err := logging.New(t.TempDir(), 10)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	runner := &recordingRunner{}
	srv, err := NewServer(Options{
		Runner: runner,
		Secret: "hunter2",
		Lookup: func(name string) (config.Account, bool) {
			if name == "octo" {
				return config.Account{Name: "octo", Token: "tok"}, true
			}
			return config.Account{}, false
		},
		Logger: log,
	})
	require.NoError(t, err)
	return srv, runner
}

func post(srv *Server, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestServerRequiresSecret(t *testing.T) {
	_, err := NewServer(Options{Runner: &recordingRunner{}})
	assert.Error(t, err)
}

func TestHookRejectsBadSignature(t *testing.T) {
	srv, runner := newTestServer(t)

	body := `{"forced": false}`
	rec := post(srv, "/hooks/octo/widgets", body, map[string]string{
		SignatureHeader: "sha256=deadbeef",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, runner.snapshot())
}

func TestHookRejectsMissingSignature(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := post(srv, "/hooks/octo/widgets", "{}", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHookQueuesBackup(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"forced": false}`
	rec := post(srv, "/hooks/octo/widgets", body, map[string]string{
		SignatureHeader: Sign("hunter2", []byte(body)),
		EventHeader:     "push",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event":"push"`)

	// The job is on the queue even though no worker is running.
	select {
	case j := <-srv.queue:
		assert.Equal(t, "octo", j.account.Name)
		assert.Equal(t, "widgets", j.repo)
		assert.Equal(t, "push", j.event)
	default:
		t.Fatal("expected a queued job")
	}
}

func TestHookUnknownAccount(t *testing.T) {
	srv, _ := newTestServer(t)

	body := "{}"
	rec := post(srv, "/hooks/stranger/widgets", body, map[string]string{
		SignatureHeader: Sign("hunter2", []byte(body)),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHookInvalidRepoName(t *testing.T) {
	srv, _ := newTestServer(t)

	body := "{}"
	rec := post(srv, "/hooks/octo/bad~name", body, map[string]string{
		SignatureHeader: Sign("hunter2", []byte(body)),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkerRunsQueuedBackups(t *testing.T) {
	srv, runner := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.worker(ctx)

	body := `{"forced": true}`
	rec := post(srv, "/hooks/octo/widgets", body, map[string]string{
		SignatureHeader: Sign("hunter2", []byte(body)),
		EventHeader:     "push",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return len(runner.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "octo/widgets@force-push", runner.snapshot()[0])
}

func TestDeriveEvent(t *testing.T) {
	cases := []struct {
		name     string
		provider string
		body     string
		want     string
	}{
		{"plain push", "push", `{}`, "push"},
		{"force push", "push", `{"forced": true}`, "force-push"},
		{"push deleting ref", "push", `{"deleted": true}`, "branch-delete"},
		{"branch delete", "delete", `{"ref_type": "branch"}`, "branch-delete"},
		{"tag delete", "delete", `{"ref_type": "tag"}`, "tag-delete"},
		{"unknown provider event", "ping", `{}`, "push"},
		{"garbage body", "push", `not json`, "push"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, deriveEvent(tc.provider, []byte(tc.body)))
		})
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
