// Package sessionkeeper implements the supervisor loop that owns the broker
// portal's authentication state, grounded on the teacher's
// StartAuthenticationKeeper ticker loop (adapter/oauth.go) and the state
// transitions of the original session_keeper.py, per SPEC_FULL.md §4.3.
package sessionkeeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/makeev/ingestd/internal/broker"
	"github.com/makeev/ingestd/internal/model"
	"github.com/makeev/ingestd/internal/obs"
)

type state int

const (
	validateSSO state = iota
	checkIServer
	softReauth
	fullRelogin
	keepAlive
)

// Keeper runs the cooperative session state machine forever until ctx is
// cancelled. It never returns an error to its caller; all transitions
// either recover or retry, per SPEC_FULL.md §4.3.
type Keeper struct {
	client  broker.Client
	session *model.SessionState
	logger  *slog.Logger
	metrics *obs.Metrics
	health  *obs.Health

	// sleep is overridable in tests so the state machine can be driven
	// without real wall-clock delays.
	sleep func(time.Duration)
}

// New builds a Keeper. metrics and health may be nil.
func New(client broker.Client, session *model.SessionState, logger *slog.Logger, metrics *obs.Metrics, health *obs.Health) *Keeper {
	return &Keeper{
		client:  client,
		session: session,
		logger:  logger,
		metrics: metrics,
		health:  health,
		sleep:   time.Sleep,
	}
}

// Run cycles the state machine until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) {
	st := validateSSO
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		st = k.step(ctx, st)
		if k.health != nil {
			k.health.MarkReady()
		}
	}
}

func (k *Keeper) count(state string) {
	if k.metrics != nil {
		k.metrics.SessionKeeperTransitions.WithLabelValues(state).Inc()
	}
}

func (k *Keeper) step(ctx context.Context, st state) state {
	switch st {
	case validateSSO:
		k.count("validate_sso")
		userID, ok, err := k.client.SSOValidate(ctx)
		if err != nil || !ok || userID == "" {
			k.logger.Debug("sso validate failed", "error", err, "ok", ok)
			return fullRelogin
		}
		return checkIServer

	case checkIServer:
		k.count("check_iserver")
		authenticated, transportErr, err := k.client.IServerAuthStatus(ctx)
		if err != nil || transportErr {
			k.logger.Warn("bad iserver status", "error", err)
			k.sleep(10 * time.Second)
			return validateSSO
		}
		if authenticated {
			return keepAlive
		}
		return softReauth

	case softReauth:
		k.count("soft_reauth")
		k.logger.Info("iserver not authenticated, attempting soft reauth")
		authenticated, err := k.client.InitIServerSession(ctx)
		if err != nil || !authenticated {
			return fullRelogin
		}
		return keepAlive

	case fullRelogin:
		k.count("full_relogin")
		k.logger.Warn("full relogin")
		_ = k.client.PortalLogout(ctx)
		_ = k.client.SSOLogout(ctx)
		ok, err := k.client.ObtainSession(ctx)
		if err != nil || !ok {
			k.session.MarkUnauthenticated()
			k.sleep(10 * time.Second)
			return validateSSO
		}
		return validateSSO

	case keepAlive:
		k.count("keep_alive")
		k.sleep(1 * time.Second)
		if err := k.client.KeepSessionAlive(ctx); err != nil {
			k.logger.Warn("tickle failed", "error", err)
			k.sleep(3 * time.Second)
		}
		return validateSSO
	}

	return validateSSO
}
