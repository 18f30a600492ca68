package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionManager owns the ActiveLogin / ActiveLoginAccess lifecycle: sliding
// expiration, per-client access grants, and refresh-token rotation with
// replay detection.
type SessionManager struct {
	repo     RepositoryManager
	cfg      *Config
	logger   Logger
	activity ActivitySink
	now      func() time.Time
}

// NewSessionManager returns a SessionManager over the given repositories.
func NewSessionManager(repo RepositoryManager, cfg *Config) *SessionManager {
	return &SessionManager{
		repo:     repo,
		cfg:      cfg,
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
	}
}

func (s *SessionManager) WithLogger(logger Logger) *SessionManager {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures the audit sink for session security events.
func (s *SessionManager) WithActivitySink(sink ActivitySink) *SessionManager {
	s.activity = normalizeActivitySink(sink)
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *SessionManager) WithClock(clock func() time.Time) *SessionManager {
	if clock != nil {
		s.now = clock
	}
	return s
}

// ExpirationFor computes the sliding-window expiration for a login:
// min(created + max lifetime, now + sliding window). Sessions can never be
// extended past the absolute ceiling regardless of activity.
func (s *SessionManager) ExpirationFor(login *ActiveLogin, now time.Time) time.Time {
	ceiling := login.CreatedAt.Add(s.cfg.MaxSessionLifetime)
	next := now.Add(s.cfg.SlidingWindow)
	if next.After(ceiling) {
		return ceiling
	}
	return next
}

// ExtendExpiration pushes the login's expiration window and persists it.
// Called on every successful use.
func (s *SessionManager) ExtendExpiration(ctx context.Context, login *ActiveLogin) error {
	return s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.extendExpirationTx(ctx, tx, login)
	})
}

func (s *SessionManager) extendExpirationTx(ctx context.Context, tx bun.IDB, login *ActiveLogin) error {
	expiresAt := s.ExpirationFor(login, s.now())
	if err := s.repo.ActiveLogins().SetExpirationTx(ctx, tx, login.ID, expiresAt); err != nil {
		return err
	}
	login.ExpiresAt = expiresAt
	return nil
}

// AssertUsable fails with ErrSessionExpired if the login is flagged invalid
// or past its expiration.
func (s *SessionManager) AssertUsable(login *ActiveLogin) error {
	if login == nil || !login.IsValid {
		return ErrSessionExpired
	}
	if !s.now().Before(login.ExpiresAt) {
		return ErrSessionExpired
	}
	return nil
}

// CreateLogin records a fresh authentication event with its initial
// expiration window. credentialID may be nil while a registration is
// pending.
func (s *SessionManager) CreateLogin(ctx context.Context, instance *StrategyInstance, credentialID *uuid.UUID, supportsSync bool, data map[string]any) (*ActiveLogin, error) {
	now := s.now()
	login := &ActiveLogin{
		IsValid:            true,
		SupportsSync:       supportsSync,
		CreatedAt:          now,
		Data:               data,
		StrategyInstanceID: instance.ID,
		LoginDataID:        credentialID,
	}
	login.ExpiresAt = s.ExpirationFor(login, now)

	return s.repo.ActiveLogins().Create(ctx, login)
}

// CreateAccess derives a per-client access grant from a usable login. The
// counter starts at the unissued sentinel; the caller supplies the
// fingerprint of the authorization code that produced the grant.
func (s *SessionManager) CreateAccess(ctx context.Context, login *ActiveLogin, clientID uuid.UUID, codeFingerprint, scope string) (*ActiveLoginAccess, error) {
	if err := s.AssertUsable(login); err != nil {
		return nil, err
	}

	access := &ActiveLoginAccess{
		ActiveLoginID:       login.ID,
		ClientID:            clientID,
		IsValid:             true,
		RefreshTokenCounter: RefreshCounterUnissued,
		CodeFingerprint:     codeFingerprint,
		Scope:               scope,
		CreatedAt:           s.now(),
	}

	var created *ActiveLoginAccess
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = s.repo.Accesses().CreateTx(ctx, tx, access)
		if err != nil {
			return err
		}
		return s.extendExpirationTx(ctx, tx, login)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// IssueOrRotateRefreshToken advances the refresh counter for an access
// grant. With presented == nil this is the first issuance (counter moves
// from the sentinel to 0); otherwise the presented counter must equal the
// stored one. The read and the update are a single guarded write, so two
// concurrent refreshes with the same starting counter cannot both succeed.
// Any mismatch permanently invalidates the grant and returns
// ErrRefreshTokenReuse.
func (s *SessionManager) IssueOrRotateRefreshToken(ctx context.Context, accessID uuid.UUID, presented *int64) (int64, error) {
	var next int64

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		access, err := s.repo.Accesses().GetByIDTx(ctx, tx, accessID)
		if err != nil {
			return ErrSessionExpired
		}
		if !access.IsValid {
			// A tripped grant never issues again.
			return ErrSessionExpired
		}

		login, err := s.repo.ActiveLogins().GetByIDTx(ctx, tx, access.ActiveLoginID)
		if err != nil {
			return ErrSessionExpired
		}
		if err := s.AssertUsable(login); err != nil {
			return err
		}

		expected := RefreshCounterUnissued
		if presented != nil {
			expected = *presented
		}
		next = expected + 1

		swapped, err := s.repo.Accesses().AdvanceCounterTx(ctx, tx, access.ID, expected, next)
		if err != nil {
			return err
		}
		if !swapped {
			// The stored counter moved under us or does not match what the
			// caller presented: a replay of a superseded token. Trip the
			// grant before reporting.
			if err := s.repo.Accesses().InvalidateTx(ctx, tx, access.ID); err != nil {
				return err
			}
			s.logger.Error("refresh token reuse detected, access %s invalidated (presented=%d stored=%d)",
				access.ID, expected, access.RefreshTokenCounter)
			s.record(ctx, ActivityEvent{
				EventType: ActivityEventRefreshReuse,
				LoginID:   access.ActiveLoginID.String(),
				AccessID:  access.ID.String(),
				Metadata: map[string]any{
					"presented_counter": expected,
					"stored_counter":    access.RefreshTokenCounter,
				},
			})
			return ErrRefreshTokenReuse
		}

		return s.extendExpirationTx(ctx, tx, login)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// FindValidLoginsForCredential returns usable logins for a credential,
// most-recently-expiring first. Sync-capable strategies use this to pick a
// session whose token can be handed to an external collaborator.
func (s *SessionManager) FindValidLoginsForCredential(ctx context.Context, credentialID uuid.UUID, syncOnly bool) ([]*ActiveLogin, error) {
	return s.repo.ActiveLogins().FindValidForCredential(ctx, credentialID, syncOnly, s.now())
}

// InvalidateLogin flips the login and every derived access grant invalid.
// Nothing is deleted: the audit trail stays.
func (s *SessionManager) InvalidateLogin(ctx context.Context, loginID uuid.UUID) error {
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.repo.ActiveLogins().InvalidateTx(ctx, tx, loginID); err != nil {
			return err
		}
		return s.repo.Accesses().InvalidateByLoginTx(ctx, tx, loginID)
	})
	if err != nil {
		return err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventSessionInvalidated,
		LoginID:   loginID.String(),
	})
	return nil
}

func (s *SessionManager) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if err := s.activity.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink error: %s", err)
	}
}
