package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hopon-app/hopon-go/internal/api"
)

var (
	// ErrSessionExpired is returned when token refresh fails terminally; the
	// session has been force-logged-out and the user must re-authenticate.
	ErrSessionExpired = errors.New("session expired")
	// ErrNotAuthenticated is returned by operations that need a live session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Status is the coordinator's lifecycle state.
type Status int

const (
	StatusUnauthenticated Status = iota
	StatusAuthenticating
	StatusAuthenticated
	StatusRefreshing
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	case StatusRefreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

// Session is the current auth state. User is an immutable snapshot; it is
// replaced wholesale, never mutated.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *api.User
	Status       Status
}

// Link is the realtime-channel lifecycle surface the coordinator owns.
// Only the coordinator calls Connect/Disconnect.
type Link interface {
	Connect(ctx context.Context, accessToken string)
	Disconnect()
}

// Coordinator orchestrates login, logout, startup validation and
// refresh-on-failure, and owns the realtime channel lifecycle. It is the sole
// mutator of the session; everything else reads copies.
type Coordinator struct {
	store Store
	api   *api.Client
	link  Link
	log   *zerolog.Logger

	mu         sync.Mutex
	sess       Session
	gen        uint64 // bumped on login/logout/expiry so stale async results are dropped
	refreshing *refreshAttempt
	onChange   func(Session)
}

// refreshAttempt is the coalescing latch: concurrent refresh triggers wait on
// done and share one outcome, so a 401 storm rotates the token exactly once.
type refreshAttempt struct {
	done   chan struct{}
	access string
	err    error
}

// NewCoordinator wires the coordinator into the API client as its token
// source and takes ownership of the link lifecycle.
func NewCoordinator(store Store, client *api.Client, link Link, logger *zerolog.Logger) *Coordinator {
	c := &Coordinator{
		store: store,
		api:   client,
		link:  link,
		log:   logger,
	}
	client.SetTokenSource(c.AccessToken)
	return c
}

// AccessToken returns the current access token, or "" when unauthenticated.
func (c *Coordinator) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.AccessToken
}

// Session returns a copy of the current session.
func (c *Coordinator) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// OnChange registers the single observer notified with a session copy after
// every transition; registering replaces the previous observer.
func (c *Coordinator) OnChange(fn func(Session)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Start validates any persisted session. With a stored access token it calls
// /auth/me, falling back to one refresh attempt; an invalid session is cleared
// so the run lands cleanly unauthenticated. Transport failures leave the
// stored tokens for the next run and are returned to the caller.
func (c *Coordinator) Start(ctx context.Context) error {
	access, refresh, err := c.store.Read()
	if err != nil {
		c.log.Warn().Err(err).Msg("read credential store")
	}
	if access == "" {
		c.set(func(s *Session) { *s = Session{Status: StatusUnauthenticated} })
		return nil
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	c.set(func(s *Session) {
		*s = Session{AccessToken: access, RefreshToken: refresh, Status: StatusAuthenticating}
	})

	user, err := c.api.Me(ctx)
	if err == nil {
		c.finishAuth(ctx, gen, user)
		return nil
	}

	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		// Could not reach the server; keep stored tokens and stay logged out
		// for this run.
		c.set(func(s *Session) { *s = Session{Status: StatusUnauthenticated} })
		return fmt.Errorf("startup validation: %w", err)
	}

	if refresh == "" {
		c.expire(gen, err)
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	newAccess, err := c.refreshFlow(ctx)
	if err != nil {
		return err
	}

	user, err = c.api.Me(ctx)
	if err != nil {
		c.mu.Lock()
		gen = c.gen
		c.mu.Unlock()
		c.expire(gen, err)
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	c.finishAuth(ctx, gen, user)
	c.log.Info().Str("token", abbreviate(newAccess)).Msg("session restored after refresh")
	return nil
}

// Login persists the token pair and validates it against /auth/me. A failed
// validation rolls everything back and returns the error; no refresh is
// attempted for a fresh login.
func (c *Coordinator) Login(ctx context.Context, accessToken, refreshToken string) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	c.set(func(s *Session) {
		*s = Session{AccessToken: accessToken, RefreshToken: refreshToken, Status: StatusAuthenticating}
	})

	if err := c.store.Save(accessToken, refreshToken); err != nil {
		c.log.Warn().Err(err).Msg("persist credentials")
	}

	user, err := c.api.Me(ctx)
	if err != nil {
		if clearErr := c.store.Clear(); clearErr != nil {
			c.log.Warn().Err(clearErr).Msg("clear credentials after failed login")
		}
		c.mu.Lock()
		if c.gen == gen {
			c.gen++
			c.sess = Session{Status: StatusUnauthenticated}
		}
		snapshot := c.sess
		fn := c.onChange
		c.mu.Unlock()
		if fn != nil {
			fn(snapshot)
		}
		return fmt.Errorf("validate login: %w", err)
	}

	c.finishAuth(ctx, gen, user)
	c.log.Info().Int64("user_id", user.ID).Str("name", user.Name).Msg("logged in")
	return nil
}

// Logout clears the session from any state. It never fails; storage errors
// are logged and the in-memory session is gone regardless.
func (c *Coordinator) Logout() {
	c.mu.Lock()
	c.gen++
	c.sess = Session{Status: StatusUnauthenticated}
	snapshot := c.sess
	fn := c.onChange
	c.mu.Unlock()

	if err := c.store.Clear(); err != nil {
		c.log.Warn().Err(err).Msg("clear credentials on logout")
	}
	c.link.Disconnect()
	if fn != nil {
		fn(snapshot)
	}
	c.log.Info().Msg("logged out")
}

// Authed runs fn, refreshing the access token and rerunning it at most once
// when fn fails with a 401 (or when the token is already visibly expired).
// A retry that still fails auth is terminal and force-logs-out.
func (c *Coordinator) Authed(ctx context.Context, fn func(context.Context) error) error {
	c.mu.Lock()
	access := c.sess.AccessToken
	status := c.sess.Status
	c.mu.Unlock()
	if status == StatusUnauthenticated || access == "" {
		return ErrNotAuthenticated
	}

	if tokenExpired(access, time.Now()) {
		if _, err := c.refreshFlow(ctx); err != nil {
			return err
		}
		c.reconnect(ctx)
	}

	err := fn(ctx)
	if err == nil || !api.IsAuthError(err) {
		return err
	}

	if _, rerr := c.refreshFlow(ctx); rerr != nil {
		return rerr
	}
	c.reconnect(ctx)

	err = fn(ctx)
	if err != nil && api.IsAuthError(err) {
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()
		c.expire(gen, err)
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return err
}

// Shutdown disconnects the realtime channel without touching the persisted
// session. Meant for process exit; the next Start restores the session.
func (c *Coordinator) Shutdown() {
	c.link.Disconnect()
}

// Reconnect re-establishes the realtime connection with the current token.
// This is the guaranteed retry point after a dropped connection.
func (c *Coordinator) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess.Status != StatusAuthenticated {
		return ErrNotAuthenticated
	}
	c.link.Connect(ctx, sess.AccessToken)
	return nil
}

// refreshFlow rotates the access token, coalescing concurrent triggers into
// one in-flight attempt. Failure is terminal: the session is cleared and
// ErrSessionExpired returned to every waiter.
func (c *Coordinator) refreshFlow(ctx context.Context) (string, error) {
	c.mu.Lock()
	if att := c.refreshing; att != nil {
		c.mu.Unlock()
		<-att.done
		return att.access, att.err
	}
	att := &refreshAttempt{done: make(chan struct{})}
	c.refreshing = att
	gen := c.gen
	refreshToken := c.sess.RefreshToken
	prev := c.sess.Status
	c.sess.Status = StatusRefreshing
	snapshot := c.sess
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}

	att.access, att.err = c.doRefresh(ctx, gen, refreshToken, prev)

	c.mu.Lock()
	c.refreshing = nil
	c.mu.Unlock()
	close(att.done)
	return att.access, att.err
}

func (c *Coordinator) doRefresh(ctx context.Context, gen uint64, refreshToken string, prev Status) (string, error) {
	if refreshToken == "" {
		c.expire(gen, errors.New("no refresh token"))
		return "", ErrSessionExpired
	}

	access, err := c.api.Refresh(ctx, refreshToken)
	if err != nil {
		c.log.Warn().Err(err).Msg("token refresh failed")
		c.expire(gen, err)
		return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// Session was replaced while the refresh was in flight; drop the result.
		c.mu.Unlock()
		return "", ErrSessionExpired
	}
	c.sess.AccessToken = access
	c.sess.Status = prev
	snapshot := c.sess
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}

	if err := c.store.Save(access, refreshToken); err != nil {
		c.log.Warn().Err(err).Msg("persist rotated token")
	}
	c.log.Debug().Str("token", abbreviate(access)).Msg("access token rotated")
	return access, nil
}

// expire force-logs-out unless the session was already replaced. Terminal for
// the session; the caller must re-authenticate interactively.
func (c *Coordinator) expire(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.sess = Session{Status: StatusUnauthenticated}
	snapshot := c.sess
	fn := c.onChange
	c.mu.Unlock()

	if err := c.store.Clear(); err != nil {
		c.log.Warn().Err(err).Msg("clear credentials on expiry")
	}
	c.link.Disconnect()
	if fn != nil {
		fn(snapshot)
	}
	c.log.Info().AnErr("cause", cause).Msg("session expired")
}

// finishAuth completes a successful validation: identity stored, channel
// connected. Dropped when the session was replaced mid-flight.
func (c *Coordinator) finishAuth(ctx context.Context, gen uint64, user *api.User) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.sess.User = user
	c.sess.Status = StatusAuthenticated
	access := c.sess.AccessToken
	snapshot := c.sess
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
	c.link.Connect(ctx, access)
}

// reconnect re-dials the channel after a token rotation while authenticated.
// The channel's same-token check makes this a no-op otherwise.
func (c *Coordinator) reconnect(ctx context.Context) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess.Status != StatusAuthenticated || sess.AccessToken == "" {
		return
	}
	c.link.Connect(ctx, sess.AccessToken)
}

func (c *Coordinator) set(mutate func(*Session)) {
	c.mu.Lock()
	mutate(&c.sess)
	snapshot := c.sess
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}

func abbreviate(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
