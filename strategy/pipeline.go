package strategy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	identity "github.com/goliatone/go-identity"
)

// Function is the caller-requested purpose of an authentication attempt.
type Function string

const (
	FunctionLogin            Function = "LOGIN"
	FunctionRegister         Function = "REGISTER"
	FunctionRegisterWithSync Function = "REGISTER_WITH_SYNC"
	FunctionAdminLink        Function = "ADMIN_LINK"
	FunctionSelfLink         Function = "SELF_LINK"
)

func (f Function) isRegistering() bool {
	switch f {
	case FunctionRegister, FunctionRegisterWithSync, FunctionAdminLink, FunctionSelfLink:
		return true
	}
	return false
}

// Outcome is what an authentication attempt produced. Exactly one of Login
// (a usable session) or RegistrationToken (a pending registration) is set on
// success.
type Outcome struct {
	// Login is the authentication event, set for completed logins.
	Login *identity.ActiveLogin
	// Credential is the credential the event authenticates, or the pending
	// one awaiting registration.
	Credential *identity.UserLoginData
	// RegistrationToken bridges a pending authentication event to user
	// creation or linking. When set, no usable session was issued.
	RegistrationToken string
}

// Executor runs strategies and applies per-instance policy to their results.
type Executor struct {
	registry *Registry
	repo     identity.RepositoryManager
	sessions *identity.SessionManager
	tokens   identity.TokenService
	cfg      *identity.Config
	logger   identity.Logger
	activity identity.ActivitySink
}

// NewExecutor wires the execution pipeline.
func NewExecutor(registry *Registry, repo identity.RepositoryManager, sessions *identity.SessionManager, tokens identity.TokenService, cfg *identity.Config) *Executor {
	return &Executor{
		registry: registry,
		repo:     repo,
		sessions: sessions,
		tokens:   tokens,
		cfg:      cfg,
		logger:   identity.DefaultLogger(),
		activity: identity.NoopActivitySink(),
	}
}

func (e *Executor) WithLogger(logger identity.Logger) *Executor {
	if logger != nil {
		e.logger = logger
	}
	return e
}

func (e *Executor) WithActivitySink(sink identity.ActivitySink) *Executor {
	if sink != nil {
		e.activity = sink
	}
	return e
}

// Authenticate runs one authentication attempt end to end: policy check,
// strategy invocation, result classification, session/credential creation.
// Session state only commits after the strategy call returned successfully,
// so an abandoned attempt leaves nothing behind.
func (e *Executor) Authenticate(ctx context.Context, instanceID uuid.UUID, fn Function, req AuthRequest) (*Outcome, error) {
	instance, err := e.repo.StrategyInstances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, identity.ErrUnknownStrategy
	}

	strat, err := e.registry.Get(instance.Type)
	if err != nil {
		return nil, err
	}

	if err := checkFunctionPolicy(fn, instance, strat.Capabilities()); err != nil {
		return nil, err
	}

	result, err := strat.PerformAuth(ctx, instance, req)
	if err != nil {
		// Strategy-level faults are not retried and never surfaced
		// verbatim; the caller gets the generic failure.
		e.logger.Error("strategy %s instance %s failed: %s", instance.Type, instance.Name, err)
		e.recordFailure(ctx, instance, "strategy error")
		return nil, identity.ErrAuthenticationFailed
	}
	if result == nil {
		e.recordFailure(ctx, instance, "no match")
		return nil, identity.ErrAuthenticationFailed
	}

	if result.MatchedCredential != nil {
		return e.completeLogin(ctx, instance, strat, fn, result)
	}

	if result.NewCredentialData != nil && result.MayRegister {
		return e.holdPendingRegistration(ctx, instance, strat, fn, result)
	}

	e.recordFailure(ctx, instance, "no usable result")
	return nil, identity.ErrAuthenticationFailed
}

// completeLogin turns a matched credential into a usable ActiveLogin.
func (e *Executor) completeLogin(ctx context.Context, instance *identity.StrategyInstance, strat Strategy, fn Function, result *AuthResult) (*Outcome, error) {
	credential := result.MatchedCredential

	switch credential.State {
	case identity.CredentialBlocked:
		return nil, identity.ErrCredentialBlocked
	case identity.CredentialValid:
		// ok
	default:
		// A pending credential cannot be logged into; it has to finish
		// registration first.
		return nil, identity.ErrAuthenticationFailed
	}

	supportsSync := fn == FunctionRegisterWithSync && strat.Capabilities().SupportsSync && instance.IsSyncActive

	login, err := e.sessions.CreateLogin(ctx, instance, &credential.ID, supportsSync, result.NewSessionData)
	if err != nil {
		return nil, err
	}

	e.record(ctx, identity.ActivityEvent{
		EventType: identity.ActivityEventLoginSuccess,
		UserID:    userIDString(credential),
		LoginID:   login.ID.String(),
		Metadata:  map[string]any{"strategy": instance.Type, "instance": instance.Name},
	})

	return &Outcome{Login: login, Credential: credential}, nil
}

// holdPendingRegistration creates the WAITING_FOR_REGISTER credential and a
// login that cannot be exercised until the registration token is redeemed.
func (e *Executor) holdPendingRegistration(ctx context.Context, instance *identity.StrategyInstance, strat Strategy, fn Function, result *AuthResult) (*Outcome, error) {
	registering := fn.isRegistering()
	if fn == FunctionLogin {
		// LOGIN may fall through to registration only when both the
		// strategy and the instance opt into implicit signup.
		if !strat.Capabilities().AllowsImplicitSignup || !instance.DoesImplicitRegister {
			e.recordFailure(ctx, instance, "unknown identity")
			return nil, identity.ErrAuthenticationFailed
		}
		registering = true
	}
	if !registering {
		e.recordFailure(ctx, instance, "registration not requested")
		return nil, identity.ErrAuthenticationFailed
	}

	supportsSync := fn == FunctionRegisterWithSync && strat.Capabilities().SupportsSync && instance.IsSyncActive
	pendingExpiry := time.Now().Add(e.cfg.RegistrationTokenTTL)

	var credential *identity.UserLoginData
	var login *identity.ActiveLogin

	err := e.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		credential, err = e.repo.Credentials().CreateTx(ctx, tx, &identity.UserLoginData{
			StrategyInstanceID: instance.ID,
			Data:               result.NewCredentialData,
			State:              identity.CredentialWaitingForRegister,
			ExpiresAt:          &pendingExpiry,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	login, err = e.sessions.CreateLogin(ctx, instance, &credential.ID, supportsSync, result.NewSessionData)
	if err != nil {
		return nil, err
	}

	token, err := e.tokens.IssueRegistrationToken(login.ID)
	if err != nil {
		// The pending credential self-expires, but the login it references
		// must not stay usable without a token to redeem it.
		if invErr := e.sessions.InvalidateLogin(ctx, login.ID); invErr != nil {
			e.logger.Error("failed to invalidate login %s after registration token error: %s", login.ID, invErr)
		}
		return nil, err
	}

	e.record(ctx, identity.ActivityEvent{
		EventType: identity.ActivityEventRegistrationPending,
		LoginID:   login.ID.String(),
		Metadata:  map[string]any{"strategy": instance.Type, "instance": instance.Name, "credential": strat.DescribeCredential(credential)},
	})

	return &Outcome{Credential: credential, Login: login, RegistrationToken: token}, nil
}

// checkFunctionPolicy rejects functions the instance's capability toggles or
// the strategy's static capabilities disallow.
func checkFunctionPolicy(fn Function, instance *identity.StrategyInstance, caps Capabilities) error {
	if !caps.SupportsLoginRegister {
		return identity.ErrFunctionNotAllowed
	}

	switch fn {
	case FunctionLogin:
		if !instance.IsLoginActive {
			return identity.ErrFunctionNotAllowed
		}
	case FunctionRegister, FunctionSelfLink:
		if !instance.IsSelfRegisterActive {
			return identity.ErrFunctionNotAllowed
		}
	case FunctionRegisterWithSync:
		if !instance.IsSelfRegisterActive || !instance.IsSyncActive || !caps.SupportsSync {
			return identity.ErrFunctionNotAllowed
		}
	case FunctionAdminLink:
		// Admin link is an administrative operation; it only needs the
		// strategy to support credentials at all.
	default:
		return identity.ErrFunctionNotAllowed
	}
	return nil
}

func (e *Executor) recordFailure(ctx context.Context, instance *identity.StrategyInstance, reason string) {
	e.record(ctx, identity.ActivityEvent{
		EventType: identity.ActivityEventLoginFailure,
		Metadata:  map[string]any{"strategy": instance.Type, "instance": instance.Name, "reason": reason},
	})
}

func (e *Executor) record(ctx context.Context, event identity.ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := e.activity.Record(ctx, event); err != nil {
		e.logger.Warn("activity sink error: %s", err)
	}
}

func userIDString(credential *identity.UserLoginData) string {
	if credential == nil || credential.UserID == nil {
		return ""
	}
	return credential.UserID.String()
}
