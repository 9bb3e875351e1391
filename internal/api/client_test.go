package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := zerolog.Nop()
	return New(srv.URL, 5*time.Second, &logger)
}

func TestDo_ErrorBodyMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "event is full"})
	}))

	err := client.Do(context.Background(), http.MethodPost, "/events/1/join", nil, nil)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "event is full" {
		t.Fatalf("expected server message, got %q", apiErr.Message)
	}
}

func TestDo_FallbackErrorMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "<html>gateway timeout</html>", http.StatusBadGateway)
	}))

	err := client.Do(context.Background(), http.MethodGet, "/events", nil, nil)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Message != "HTTP 502" {
		t.Fatalf("expected synthetic message for undecodable body, got %q", apiErr.Message)
	}
}

func TestDo_BearerHeader(t *testing.T) {
	var authed, public string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/me":
			authed = r.Header.Get("Authorization")
		case "/sports":
			public = r.Header.Get("Authorization")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	client.SetTokenSource(func() string { return "tok1" })

	if err := client.Do(context.Background(), http.MethodGet, "/auth/me", nil, nil); err != nil {
		t.Fatalf("authed call: %v", err)
	}
	if err := client.Do(context.Background(), http.MethodGet, "/sports", nil, nil, Public()); err != nil {
		t.Fatalf("public call: %v", err)
	}

	if authed != "Bearer tok1" {
		t.Fatalf("expected bearer header, got %q", authed)
	}
	if public != "" {
		t.Fatalf("public call must not carry a bearer header, got %q", public)
	}
}

func TestDo_NoHeaderWithoutToken(t *testing.T) {
	var header string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	client.SetTokenSource(func() string { return "" })

	if err := client.Do(context.Background(), http.MethodGet, "/auth/me", nil, nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	if header != "" {
		t.Fatalf("expected no header when unauthenticated, got %q", header)
	}
}

func TestIsAuthError(t *testing.T) {
	if !IsAuthError(&Error{StatusCode: http.StatusUnauthorized, Message: "token expired"}) {
		t.Fatalf("401 must be an auth error")
	}
	if IsAuthError(&Error{StatusCode: http.StatusForbidden, Message: "not yours"}) {
		t.Fatalf("403 must not be an auth error")
	}
	if IsAuthError(errors.New("connection refused")) {
		t.Fatalf("transport errors must not be auth errors")
	}
}

func TestEvents_FilterQuery(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"events": []map[string]any{{"id": 5, "name": "Morning run", "sport": "running"}},
			"total":  1,
		})
	}))

	page, err := client.Events(context.Background(), EventFilters{
		Sport:      "running",
		SkillLevel: "beginner",
		Page:       2,
	})
	if err != nil {
		t.Fatalf("events: %v", err)
	}

	if gotQuery != "page=2&skill_level=beginner&sport=running" {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
	if len(page.Events) != 1 || page.Events[0].Name != "Morning run" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Total != 1 {
		t.Fatalf("expected total 1, got %d", page.Total)
	}
}

func TestRefresh_DecodesAccessToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken != "rtok1" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid refresh token"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok2"})
	}))

	access, err := client.Refresh(context.Background(), "rtok1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access != "tok2" {
		t.Fatalf("expected tok2, got %q", access)
	}

	_, err = client.Refresh(context.Background(), "bogus")
	if !IsAuthError(err) {
		t.Fatalf("expected auth error for bad refresh token, got %v", err)
	}
}
