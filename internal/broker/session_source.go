package broker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// sessionTokenSource adapts the portal's cookie-based session to
// oauth2.TokenSource so the Session Keeper can reuse the teacher's early
// refresh idiom (adapter/oauth.go's calcRefreshTokenExpiry +
// oauth2.ReuseTokenSourceWithExpiry) even though the wire protocol here is
// a session cookie rather than a bearer token: the cookie value becomes
// Token.AccessToken and the SSO user id rides in Token.Extra.
type sessionTokenSource struct {
	ctx    context.Context
	client *PortalClient
	ttl    time.Duration
}

// newSessionTokenSource builds a TokenSource that calls ObtainSession on
// every Token() invocation. ttl is the assumed session lifetime used to set
// Token.Expiry; oauth2.ReuseTokenSourceWithExpiry subtracts its own
// early-refresh margin from this before calling back in.
func newSessionTokenSource(ctx context.Context, client *PortalClient, ttl time.Duration) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, client: client, ttl: ttl}
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	ok, err := s.client.ObtainSession(s.ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("obtainSession: portal rejected credentials")
	}

	cp, err := s.client.Cookie("cp")
	if err != nil {
		return nil, err
	}

	tok := &oauth2.Token{
		AccessToken: cp,
		Expiry:      time.Now().Add(s.ttl),
	}
	return tok.WithExtra(map[string]any{"sso_user_id": s.client.username}), nil
}

// EarlyRefreshSource wraps ctx/client/ttl in a reusing, early-refreshing
// TokenSource, mirroring StartTokenEarlyRefresh's margin in the teacher's
// oauth.go. earlyBy is how long before expiry a refresh is triggered.
func EarlyRefreshSource(ctx context.Context, client *PortalClient, ttl, earlyBy time.Duration) oauth2.TokenSource {
	base := newSessionTokenSource(ctx, client, ttl)
	seed := &oauth2.Token{Expiry: time.Now().Add(-earlyBy)} // force an immediate first refresh
	return oauth2.ReuseTokenSourceWithExpiry(seed, base, earlyBy)
}
