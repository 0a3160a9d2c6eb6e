package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/config"
	"github.com/kubently/kubently/internal/models"
	"github.com/kubently/kubently/internal/queue"
	"github.com/kubently/kubently/internal/session"
	"github.com/kubently/kubently/internal/store"
)

type testEnv struct {
	handler  *Handler
	router   *mux.Router
	store    *store.Store
	queue    *queue.Queue
	sessions *session.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		SessionTTLSec:      300,
		DispatchTimeoutSec: 5,
		KeepaliveSec:       15,
		InflightWindow:     8,
	}
	sessions := session.NewManager(st, cfg.SessionTTL())
	q := queue.New(st, log, 0)
	h := NewHandler(cfg, st, sessions, q, nil, log, "test-server")

	router := mux.NewRouter()
	SetupRoutes(router, h)
	return &testEnv{handler: h, router: router, store: st, queue: q, sessions: sessions}
}

// asUser attaches an operator principal the way the auth middleware would.
func asUser(r *http.Request, scopes ...string) *http.Request {
	ac := &auth.AuthContext{Identity: "alice@example.com", Method: auth.MethodAPIKey, Permissions: scopes}
	return r.WithContext(auth.WithAuth(r.Context(), ac))
}

// asExecutor attaches an executor principal for a cluster.
func asExecutor(r *http.Request, clusterID string) *http.Request {
	r.Header.Set("X-Cluster-ID", clusterID)
	ac := &auth.AuthContext{Identity: "executor:" + clusterID, Method: auth.MethodExecutorToken, Permissions: []string{"executor"}}
	return r.WithContext(auth.WithAuth(r.Context(), ac))
}

func postJSON(t *testing.T, path string, body interface{}) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	req := asUser(postJSON(t, "/debug/session", map[string]interface{}{"cluster_id": "kind"}))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", w.Code, w.Body.String())
	}
	var created session.Session
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("create session body: %v", err)
	}
	if created.ID == "" || created.ClusterID != "kind" {
		t.Errorf("created session = %+v", created)
	}

	del := asUser(httptest.NewRequest(http.MethodDelete, "/debug/session/"+created.ID, nil))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, del)
	if w.Code != http.StatusNoContent {
		t.Errorf("close session status = %d, want 204", w.Code)
	}

	// Closing twice is a 404, not an error.
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, asUser(httptest.NewRequest(http.MethodDelete, "/debug/session/"+created.ID, nil)))
	if w.Code != http.StatusNotFound {
		t.Errorf("second close status = %d, want 404", w.Code)
	}
}

func TestCreateSessionRejectsBadCluster(t *testing.T) {
	env := newTestEnv(t)
	req := asUser(postJSON(t, "/debug/session", map[string]interface{}{"cluster_id": "bad cluster!"}))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestExecuteRejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"unknown command type", map[string]interface{}{
			"cluster_id": "kind", "command_type": "destroy", "args": []string{"get", "pods"},
		}},
		{"empty args", map[string]interface{}{
			"cluster_id": "kind", "command_type": "get", "args": []string{},
		}},
		{"blank arg", map[string]interface{}{
			"cluster_id": "kind", "command_type": "get", "args": []string{"get", "  "},
		}},
		{"mutating verb", map[string]interface{}{
			"cluster_id": "kind", "command_type": "get", "args": []string{"delete", "pod", "x"},
		}},
		{"verb mismatch", map[string]interface{}{
			"cluster_id": "kind", "command_type": "logs", "args": []string{"get", "pods"},
		}},
		{"bad cluster id", map[string]interface{}{
			"cluster_id": "no spaces", "command_type": "get", "args": []string{"get", "pods"},
		}},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, asUser(postJSON(t, "/debug/execute", tc.body)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400 (body %s)", tc.name, w.Code, w.Body.String())
		}
	}
}

func TestExecuteRequiresExecuteScope(t *testing.T) {
	env := newTestEnv(t)
	req := asUser(postJSON(t, "/debug/execute", map[string]interface{}{
		"cluster_id": "kind", "command_type": "get", "args": []string{"get", "pods"},
	}), "read")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for identity without execute scope", w.Code)
	}
}

func TestExecuteTimesOutAsResult(t *testing.T) {
	env := newTestEnv(t)

	// No executor is connected: the dispatcher must answer 200 with a TIMEOUT
	// result, not an HTTP error.
	req := asUser(postJSON(t, "/debug/execute", map[string]interface{}{
		"cluster_id": "kind", "command_type": "get",
		"args": []string{"get", "pods"}, "timeout_seconds": 1,
	}))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var res models.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("body: %v", err)
	}
	if res.Status != models.StatusTimeout {
		t.Errorf("status = %s, want TIMEOUT", res.Status)
	}
	if res.ReturnCode != -1 {
		t.Errorf("return_code = %d, want -1", res.ReturnCode)
	}
}

func TestExecuteRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Fake executor: pop the command and deliver a result.
	go func() {
		for i := 0; i < 50; i++ {
			cmd, err := env.queue.PopNext(ctx, "kind", 100*time.Millisecond)
			if err != nil {
				return
			}
			if cmd == nil {
				continue
			}
			env.queue.Deliver(ctx, &models.Result{
				CommandID:  cmd.CommandID,
				ClusterID:  "kind",
				Success:    true,
				Stdout:     "pod-a   1/1   Running",
				Status:     models.StatusSuccess,
				ExecutedAt: time.Now().UTC(),
			})
			return
		}
	}()

	req := asUser(postJSON(t, "/debug/execute", map[string]interface{}{
		"cluster_id": "kind", "command_type": "get", "args": []string{"get", "pods", "-A"},
	}))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var res models.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("body: %v", err)
	}
	if res.Status != models.StatusSuccess || res.Stdout != "pod-a   1/1   Running" {
		t.Errorf("result = %+v, want the delivered result", res)
	}
}

func TestExecuteUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	req := asUser(postJSON(t, "/debug/execute", map[string]interface{}{
		"session_id": "ghost", "cluster_id": "kind",
		"command_type": "get", "args": []string{"get", "pods"},
	}))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for expired session", w.Code)
	}
}

func TestListClusters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.SetTTL(ctx, "executor:kind", []byte("srv-1"), time.Minute)
	env.store.SetTTL(ctx, "executor:prod", []byte("srv-2"), time.Minute)

	req := asUser(httptest.NewRequest(http.MethodGet, "/debug/clusters", nil))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Clusters []string `json:"clusters"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if len(body.Clusters) != 2 {
		t.Errorf("clusters = %v, want 2 entries", body.Clusters)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200 with live store", w.Code)
	}
}
