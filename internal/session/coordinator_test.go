package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hopon-app/hopon-go/internal/api"
)

type fakeLink struct {
	mu          sync.Mutex
	connects    []string
	disconnects int
}

func (l *fakeLink) Connect(_ context.Context, token string) {
	l.mu.Lock()
	l.connects = append(l.connects, token)
	l.mu.Unlock()
}

func (l *fakeLink) Disconnect() {
	l.mu.Lock()
	l.disconnects++
	l.mu.Unlock()
}

func (l *fakeLink) lastConnect() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.connects) == 0 {
		return ""
	}
	return l.connects[len(l.connects)-1]
}

func (l *fakeLink) connectCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.connects)
}

func (l *fakeLink) disconnectCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnects
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func meHandler(accept func(token string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if accept(bearer(r)) {
			writeJSON(w, http.StatusOK, map[string]any{
				"user": map[string]any{"id": 1, "name": "Alex"},
			})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	}
}

func newTestCoordinator(t *testing.T, handler http.Handler, store Store) (*Coordinator, *fakeLink) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := zerolog.Nop()
	client := api.New(srv.URL, 5*time.Second, &logger)
	link := &fakeLink{}
	return NewCoordinator(store, client, link, &logger), link
}

func TestLogin_ConnectsRealtimeWithToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", meHandler(func(token string) bool { return token == "tok1" }))

	store := NewMemoryStore()
	coord, link := newTestCoordinator(t, mux, store)

	if err := coord.Login(context.Background(), "tok1", "rtok1"); err != nil {
		t.Fatalf("login: %v", err)
	}

	sess := coord.Session()
	if sess.Status != StatusAuthenticated {
		t.Fatalf("expected authenticated, got %s", sess.Status)
	}
	if sess.User == nil || sess.User.Name != "Alex" || sess.User.ID != 1 {
		t.Fatalf("unexpected user: %+v", sess.User)
	}
	if link.lastConnect() != "tok1" {
		t.Fatalf("expected realtime connect with tok1, got %q", link.lastConnect())
	}

	access, refresh, _ := store.Read()
	if access != "tok1" || refresh != "rtok1" {
		t.Fatalf("expected persisted tokens, got %q / %q", access, refresh)
	}
}

func TestLogin_RollbackOnFailedValidation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", meHandler(func(string) bool { return false }))

	store := NewMemoryStore()
	coord, link := newTestCoordinator(t, mux, store)

	err := coord.Login(context.Background(), "tok1", "rtok1")
	if err == nil {
		t.Fatalf("expected login to fail")
	}
	if !api.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}

	if got := coord.Session().Status; got != StatusUnauthenticated {
		t.Fatalf("expected unauthenticated after rollback, got %s", got)
	}
	access, refresh, _ := store.Read()
	if access != "" || refresh != "" {
		t.Fatalf("expected cleared store, got %q / %q", access, refresh)
	}
	if link.connectCount() != 0 {
		t.Fatalf("expected no realtime connect, got %d", link.connectCount())
	}
}

func TestStart_NoTokensStaysUnauthenticated(t *testing.T) {
	coord, link := newTestCoordinator(t, http.NewServeMux(), NewMemoryStore())

	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := coord.Session().Status; got != StatusUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", got)
	}
	if link.connectCount() != 0 {
		t.Fatalf("expected no realtime connect, got %d", link.connectCount())
	}
}

func TestStart_RefreshesAndRetries(t *testing.T) {
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", meHandler(func(token string) bool { return token == "tok2" }))
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if json.NewDecoder(r.Body).Decode(&req) != nil || req.RefreshToken != "rtok1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "tok2"})
	})

	store := NewMemoryStore()
	if err := store.Save("tok1", "rtok1"); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	coord, link := newTestCoordinator(t, mux, store)

	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	sess := coord.Session()
	if sess.Status != StatusAuthenticated {
		t.Fatalf("expected authenticated, got %s", sess.Status)
	}
	if sess.AccessToken != "tok2" {
		t.Fatalf("expected rotated token tok2, got %q", sess.AccessToken)
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", got)
	}
	if link.lastConnect() != "tok2" {
		t.Fatalf("expected realtime connect with tok2, got %q", link.lastConnect())
	}

	access, refresh, _ := store.Read()
	if access != "tok2" || refresh != "rtok1" {
		t.Fatalf("expected tok2/rtok1 persisted, got %q / %q", access, refresh)
	}
}

func TestStart_RefreshFailureIsTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", meHandler(func(string) bool { return false }))
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "refresh token expired"})
	})

	store := NewMemoryStore()
	if err := store.Save("tok1", "rtok1"); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	coord, link := newTestCoordinator(t, mux, store)

	err := coord.Start(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	if got := coord.Session().Status; got != StatusUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", got)
	}
	access, refresh, _ := store.Read()
	if access != "" || refresh != "" {
		t.Fatalf("expected cleared store, got %q / %q", access, refresh)
	}
	if link.disconnectCount() == 0 {
		t.Fatalf("expected realtime disconnect")
	}
}

func TestAuthed_CoalescesConcurrentRefreshes(t *testing.T) {
	const workers = 4

	var (
		refreshCalls atomic.Int32
		unauthorized atomic.Int32
		releaseOnce  sync.Once
	)
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", meHandler(func(token string) bool { return token == "tok1" || token == "tok2" }))
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if bearer(r) == "tok2" {
			writeJSON(w, http.StatusOK, map[string]any{"events": []any{}})
			return
		}
		// Hold the refresh until every worker has seen its 401 so all of
		// them race into the refresh flow together.
		if unauthorized.Add(1) == workers {
			releaseOnce.Do(func() { close(release) })
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token expired"})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		<-release
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "tok2"})
	})

	store := NewMemoryStore()
	if err := store.Save("tok1", "rtok1"); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	coord, link := newTestCoordinator(t, mux, store)
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	client := coord.api
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = coord.Authed(context.Background(), func(ctx context.Context) error {
				return client.Do(ctx, http.MethodGet, "/events", nil, nil)
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", got)
	}

	access, _, _ := store.Read()
	if access != "tok2" {
		t.Fatalf("expected rotated token persisted, got %q", access)
	}
	if link.lastConnect() != "tok2" {
		t.Fatalf("expected realtime reconnect with tok2, got %q", link.lastConnect())
	}
}

func TestAuthed_NonAuthErrorPassesThrough(t *testing.T) {
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", meHandler(func(token string) bool { return token == "tok1" }))
	mux.HandleFunc("/events/9", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event not found"})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "tok2"})
	})

	store := NewMemoryStore()
	if err := store.Save("tok1", "rtok1"); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	coord, _ := newTestCoordinator(t, mux, store)
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	client := coord.api
	err := coord.Authed(context.Background(), func(ctx context.Context) error {
		return client.Do(ctx, http.MethodGet, "/events/9", nil, nil)
	})

	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 api error, got %v", err)
	}
	if refreshCalls.Load() != 0 {
		t.Fatalf("expected no refresh for non-auth failure, got %d", refreshCalls.Load())
	}
	if got := coord.Session().Status; got != StatusAuthenticated {
		t.Fatalf("expected session to survive a 404, got %s", got)
	}
}

func TestAuthed_RequiresSession(t *testing.T) {
	coord, _ := newTestCoordinator(t, http.NewServeMux(), NewMemoryStore())

	err := coord.Authed(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestLogout_FromRefreshing(t *testing.T) {
	refreshStarted := make(chan struct{}, 1)
	block := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", meHandler(func(token string) bool { return token == "tok1" }))
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token expired"})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		select {
		case refreshStarted <- struct{}{}:
		default:
		}
		<-block
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "tok2"})
	})

	store := NewMemoryStore()
	if err := store.Save("tok1", "rtok1"); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	coord, link := newTestCoordinator(t, mux, store)
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	client := coord.api
	errCh := make(chan error, 1)
	go func() {
		errCh <- coord.Authed(context.Background(), func(ctx context.Context) error {
			return client.Do(ctx, http.MethodGet, "/events", nil, nil)
		})
	}()

	select {
	case <-refreshStarted:
	case <-time.After(5 * time.Second):
		t.Fatalf("refresh never started")
	}
	if got := coord.Session().Status; got != StatusRefreshing {
		t.Fatalf("expected refreshing, got %s", got)
	}

	coord.Logout()

	if got := coord.Session().Status; got != StatusUnauthenticated {
		t.Fatalf("expected unauthenticated after logout, got %s", got)
	}
	if link.disconnectCount() == 0 {
		t.Fatalf("expected realtime disconnect on logout")
	}
	access, refresh, _ := store.Read()
	if access != "" || refresh != "" {
		t.Fatalf("expected cleared store, got %q / %q", access, refresh)
	}

	// Let the stale refresh finish; its result must be discarded.
	close(block)
	if err := <-errCh; !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired for the stale caller, got %v", err)
	}
	if got := coord.Session().Status; got != StatusUnauthenticated {
		t.Fatalf("stale refresh resurrected the session: %s", got)
	}
	if coord.AccessToken() != "" {
		t.Fatalf("stale token survived logout: %q", coord.AccessToken())
	}
}
