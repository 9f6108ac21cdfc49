// Package broker implements authenticated HTTP transport to the broker's
// portal, following the teacher's doRequest-with-auto-refresh pattern
// (adapter/saxo.go) adapted from Saxo's OAuth2 bearer tokens to the client
// portal gateway's session-cookie model: the SaxoAuthClient's OAuth2
// TokenSource becomes a SessionSource (session_source.go) wrapping
// ObtainSession, and the history endpoint's retry/backoff is replaced by a
// pair of per-endpoint-class circuit breakers (§DOMAIN STACK).
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/makeev/ingestd/internal/model"
	"github.com/makeev/ingestd/internal/store"
)

// Client is the transport the Session Keeper, Tick Streamer, and Bar
// Reconciler consume, per SPEC_FULL.md §4.1.
type Client interface {
	LoadSession(ctx context.Context) error
	HistoryRequest(ctx context.Context, conid int, periodMinutes int) ([]HistoryPoint, error)
	SocketURL() string
	Cookie(name string) (string, error)

	SSOValidate(ctx context.Context) (userID string, ok bool, err error)
	IServerAuthStatus(ctx context.Context) (authenticated bool, transportErr bool, err error)
	InitIServerSession(ctx context.Context) (authenticated bool, err error)
	PortalLogout(ctx context.Context) error
	SSOLogout(ctx context.Context) error
	ObtainSession(ctx context.Context) (bool, error)
	KeepSessionAlive(ctx context.Context) error
}

// HistoryPoint is one bar returned by the broker's bounded history
// endpoint: t is ms UTC.
type HistoryPoint struct {
	T int64
	O float64
	H float64
	L float64
	C float64
	V float64
}

// PortalClient is the concrete Client backed by net/http against a Client
// Portal Gateway-style REST API.
type PortalClient struct {
	baseURL  string
	username string
	password string

	httpClient *http.Client
	jar        *cookiejar.Jar
	session    *model.SessionState
	logger     *slog.Logger

	historyBreaker *gobreaker.CircuitBreaker
	sessionBreaker *gobreaker.CircuitBreaker

	// sharedStore/sharedSecret are set by EnableSharedSession; nil means
	// this client never reads or writes shared session storage (the
	// single-process ingestd deployment, where SessionState is already
	// shared in memory).
	sharedStore  store.Store
	sharedSecret string
}

// NewPortalClient builds a client for baseURL, sharing session with the
// caller (typically the Session Keeper owns writes; the Tick Streamer and
// Bar Reconciler only read via Cookie/SocketURL).
func NewPortalClient(baseURL, username, password string, session *model.SessionState, logger *slog.Logger) *PortalClient {
	jar, _ := cookiejar.New(nil)
	return &PortalClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Jar: jar, Timeout: 15 * time.Second},
		jar:        jar,
		session:    session,
		logger:     logger,
		historyBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "broker-history",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: tripAfterConsecutive(3),
		}),
		sessionBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "broker-session",
			MaxRequests: 1,
			Timeout:     15 * time.Second,
			ReadyToTrip: tripAfterConsecutive(3),
		}),
	}
}

func tripAfterConsecutive(n uint32) func(counts gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= n
	}
}

func (c *PortalClient) SocketURL() string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws"
}

func (c *PortalClient) Cookie(name string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	for _, ck := range c.jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value, nil
		}
	}
	return "", fmt.Errorf("cookie %q not set", name)
}

func (c *PortalClient) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &model.TransportError{Op: path, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &model.TransportError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return model.ErrUnauthenticated
	}
	if resp.StatusCode >= 300 {
		return &model.TransportError{Op: path, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.TransportError{Op: path, Err: err}
	}
	return nil
}

func (c *PortalClient) HistoryRequest(ctx context.Context, conid int, periodMinutes int) ([]HistoryPoint, error) {
	if periodMinutes > 1000 {
		periodMinutes = 1000
	}
	path := fmt.Sprintf("/iserver/marketdata/history?conid=%d&period=%dmin&bar=1min&outsideRth=true", conid, periodMinutes)

	result, err := c.historyBreaker.Execute(func() (any, error) {
		var hr historyResponse
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &hr); err != nil {
			return nil, err
		}
		return hr, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &model.TransportError{Op: "historyRequest", Err: err}
		}
		return nil, err
	}

	hr := result.(historyResponse)
	out := make([]HistoryPoint, len(hr.Data))
	for i, p := range hr.Data {
		out[i] = HistoryPoint{T: int64(p.T), O: p.O, H: p.H, L: p.L, C: p.C, V: p.V}
	}
	return out, nil
}

func (c *PortalClient) SSOValidate(ctx context.Context) (string, bool, error) {
	var resp ssoValidateResponse
	err := c.runSessionBreaker(func() error {
		return c.doJSON(ctx, http.MethodGet, "/sso/validate", nil, &resp)
	})
	if err != nil {
		return "", false, err
	}
	return resp.UserID, resp.ok(), nil
}

func (c *PortalClient) IServerAuthStatus(ctx context.Context) (bool, bool, error) {
	var resp iserverAuthStatusResponse
	err := c.runSessionBreaker(func() error {
		return c.doJSON(ctx, http.MethodGet, "/iserver/auth/status", nil, &resp)
	})
	if err != nil {
		return false, true, err
	}
	return resp.Authenticated, resp.hasTransportError(), nil
}

func (c *PortalClient) InitIServerSession(ctx context.Context) (bool, error) {
	var resp iserverAuthStatusResponse
	err := c.runSessionBreaker(func() error {
		return c.doJSON(ctx, http.MethodPost, "/iserver/auth/ssodh/init", nil, &resp)
	})
	if err != nil {
		return false, err
	}
	return resp.Authenticated, nil
}

func (c *PortalClient) PortalLogout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/logout", nil, nil)
}

func (c *PortalClient) SSOLogout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/sso/logout", nil, nil)
}

func (c *PortalClient) ObtainSession(ctx context.Context) (bool, error) {
	payload := strings.NewReader(fmt.Sprintf(`{"username":%q,"password":%q}`, c.username, c.password))
	err := c.runSessionBreaker(func() error {
		return c.doJSON(ctx, http.MethodPost, "/login", payload, nil)
	})
	if err != nil {
		return false, err
	}

	cp, err := c.Cookie("cp")
	if err != nil {
		return false, nil
	}
	if c.session != nil {
		c.session.Set(cp, c.username, true)
	}
	if c.sharedStore != nil {
		if err := c.persistShared(ctx); err != nil {
			c.logger.Warn("failed to persist shared session", "error", err)
		}
	}
	return true, nil
}

func (c *PortalClient) KeepSessionAlive(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/tickle", nil, nil)
}

func (c *PortalClient) runSessionBreaker(fn func() error) error {
	_, err := c.sessionBreaker.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return &model.TransportError{Op: "session", Err: err}
	}
	return err
}

var _ Client = (*PortalClient)(nil)
