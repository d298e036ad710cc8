// Package users answers the three questions for an incoming bot request:
// is the user allowed at all, does it hold the required role, and is it
// currently rate limited.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/haasonsaas/botgate/pkg/ratelimit"
)

const (
	StatusAllowed = "allowed"
	StatusDenied  = "denied"
)

// Error taxonomy surfaced by the service. Collaborators wrap their failures
// into these so callers can pick a policy (deny-by-default, retry, alert)
// without inspecting backend-specific errors.
var (
	ErrConfigNotFound   = errors.New("user configuration not found")
	ErrMalformedConfig  = errors.New("malformed user configuration")
	ErrStoreUnavailable = errors.New("user store unavailable")
)

// UserConfig is the fixed-shape per-user configuration held in the secret
// store. The service never mutates it.
type UserConfig struct {
	Status   string           `json:"status"`
	Roles    []string         `json:"roles"`
	Requests ratelimit.Config `json:"requests"`
}

func (c UserConfig) HasRole(role string) bool {
	if role == "" {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ConfigSource reads per-user configuration from the secret store.
type ConfigSource interface {
	UserConfig(ctx context.Context, userID string) (UserConfig, error)
}

// UserView is the persisted rate-limit state handed to an evaluation.
type UserView struct {
	History []time.Time
	State   ratelimit.State
}

// UserUpdate carries the evaluation result back for persistence. History is
// always a pruned suffix of the view's history plus appended entries.
type UserUpdate struct {
	History []time.Time
	State   ratelimit.State
}

// AuditEntry records one access check for the audit trail.
type AuditEntry struct {
	UserID           string
	MessageID        string
	ChatID           string
	Authentication   string
	Authorization    string
	RateLimitedUntil *time.Time
	At               time.Time
}

// Store persists observed user state. WithUser must serialize concurrent
// evaluations for the same user ID; a nil update from fn means read-only.
type Store interface {
	WithUser(ctx context.Context, userID string, fn func(UserView) (*UserUpdate, error)) error
	RegisterUser(ctx context.Context, userID, chatID, status string) error
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// CheckRequest identifies one incoming bot request.
type CheckRequest struct {
	UserID    string
	RoleID    string
	MessageID string
	ChatID    string
}

// Decision is the outcome of an access check.
type Decision struct {
	Access      string          `json:"access"`
	Permissions string          `json:"permissions"`
	RateLimit   ratelimit.State `json:"rate_limit"`
}

// Allowed reports whether the request may proceed right now.
func (d Decision) Allowed(now time.Time) bool {
	return d.Access == StatusAllowed && d.Permissions == StatusAllowed && !d.RateLimit.Blocked(now)
}

// Service wires the configuration source, the store, and the rate-limit
// engine into the exposed decision API.
type Service struct {
	source ConfigSource
	store  Store
	engine *ratelimit.Engine
	log    zerolog.Logger
}

func NewService(source ConfigSource, store Store, logger zerolog.Logger) *Service {
	return &Service{
		source: source,
		store:  store,
		engine: ratelimit.NewEngine(),
		log:    logger,
	}
}

// DetermineRateLimit runs the read-evaluate-write sequence for one user at
// now and returns the resulting rate-limit state.
func (s *Service) DetermineRateLimit(ctx context.Context, userID string, now time.Time) (ratelimit.State, error) {
	cfg, err := s.source.UserConfig(ctx, userID)
	if err != nil {
		return ratelimit.State{}, err
	}
	return s.determine(ctx, userID, cfg.Requests, now)
}

func (s *Service) determine(ctx context.Context, userID string, quota ratelimit.Config, now time.Time) (ratelimit.State, error) {
	var result ratelimit.State
	err := s.store.WithUser(ctx, userID, func(view UserView) (*UserUpdate, error) {
		out, err := s.engine.Determine(quota, view.History, view.State, now)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", userID, err)
		}
		result = out.State

		// an ongoing block leaves history and state untouched
		if view.State.Blocked(now) {
			return nil, nil
		}
		return &UserUpdate{History: out.History, State: out.State}, nil
	})
	if err != nil {
		return ratelimit.State{}, err
	}

	if result.EndTime != nil {
		s.log.Warn().Str("user_id", userID).Time("until", *result.EndTime).Msg("Request quota exhausted")
	}
	return result, nil
}

// AccessCheck performs authentication, authorization, and rate limiting for
// one request, registers the user, and appends an audit record. A user
// missing from the secret store is denied, not an error.
func (s *Service) AccessCheck(ctx context.Context, req CheckRequest, now time.Time) (Decision, error) {
	decision := Decision{Access: StatusDenied, Permissions: StatusDenied}

	cfg, err := s.source.UserConfig(ctx, req.UserID)
	if errors.Is(err, ErrConfigNotFound) {
		s.log.Warn().Str("user_id", req.UserID).Msg("Access denied: unknown user")
		if auditErr := s.audit(ctx, req, decision, now); auditErr != nil {
			return Decision{}, auditErr
		}
		return decision, nil
	}
	if err != nil {
		return Decision{}, err
	}

	if cfg.Status == StatusAllowed {
		decision.Access = StatusAllowed
	}
	if decision.Access == StatusAllowed && cfg.HasRole(req.RoleID) {
		decision.Permissions = StatusAllowed
	}

	if decision.Access == StatusAllowed && decision.Permissions == StatusAllowed {
		state, err := s.determine(ctx, req.UserID, cfg.Requests, now)
		if err != nil {
			return Decision{}, err
		}
		decision.RateLimit = state
	}

	if err := s.store.RegisterUser(ctx, req.UserID, req.ChatID, decision.Access); err != nil {
		return Decision{}, err
	}
	if err := s.audit(ctx, req, decision, now); err != nil {
		return Decision{}, err
	}

	s.log.Info().
		Str("user_id", req.UserID).
		Str("role_id", req.RoleID).
		Str("access", decision.Access).
		Str("permissions", decision.Permissions).
		Bool("rate_limited", decision.RateLimit.Blocked(now)).
		Msg("Access check completed")

	return decision, nil
}

func (s *Service) audit(ctx context.Context, req CheckRequest, decision Decision, now time.Time) error {
	return s.store.AppendAudit(ctx, AuditEntry{
		UserID:           req.UserID,
		MessageID:        req.MessageID,
		ChatID:           req.ChatID,
		Authentication:   decision.Access,
		Authorization:    decision.Permissions,
		RateLimitedUntil: decision.RateLimit.EndTime,
		At:               now,
	})
}
