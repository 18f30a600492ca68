package identity

import (
	"context"

	"github.com/google/uuid"
)

// RegistrationMode describes what a validated registration token permits.
type RegistrationMode string

const (
	// ModeSelfRegister means no user is bound anywhere: a fresh account may
	// be created.
	ModeSelfRegister RegistrationMode = "self-register"
	// ModeLink means the credential will be attached to the required
	// subject user.
	ModeLink RegistrationMode = "link"
)

// RegistrationTokenResult is the validated bridge between a completed
// strategy challenge and user creation/linking.
type RegistrationTokenResult struct {
	Credential *UserLoginData
	Login      *ActiveLogin
	Mode       RegistrationMode
}

// RegistrationTokenValidator is the single authorization gate between
// "someone completed a strategy challenge" and "a user account is created or
// modified". It must be re-run at the moment of registration, never cached:
// state may have changed concurrently.
type RegistrationTokenValidator struct {
	repo     RepositoryManager
	tokens   TokenService
	sessions *SessionManager
	logger   Logger
}

func NewRegistrationTokenValidator(repo RepositoryManager, tokens TokenService, sessions *SessionManager) *RegistrationTokenValidator {
	return &RegistrationTokenValidator{
		repo:     repo,
		tokens:   tokens,
		sessions: sessions,
		logger:   defLogger{},
	}
}

func (v *RegistrationTokenValidator) WithLogger(logger Logger) *RegistrationTokenValidator {
	if logger != nil {
		v.logger = logger
	}
	return v
}

// Validate verifies the token signature, loads the referenced session and
// credential, and applies the subject-user rules. requiredSubjectUser is the
// already-authenticated user for link operations, nil for self-registration.
func (v *RegistrationTokenValidator) Validate(ctx context.Context, token string, requiredSubjectUser *uuid.UUID) (*RegistrationTokenResult, error) {
	loginID, err := v.tokens.ValidateRegistrationToken(token)
	if err != nil {
		return nil, ErrInvalidRegistrationToken
	}

	login, err := v.repo.ActiveLogins().GetByID(ctx, loginID)
	if err != nil {
		v.logger.Debug("registration token references missing login %s", loginID)
		return nil, ErrInvalidRegistrationToken
	}
	if err := v.sessions.AssertUsable(login); err != nil {
		return nil, ErrSessionExpired
	}

	if login.LoginDataID == nil {
		return nil, ErrCredentialMissing
	}
	credential, err := v.repo.Credentials().GetByID(ctx, *login.LoginDataID)
	if err != nil {
		return nil, ErrCredentialMissing
	}
	if credential.IsExpired(v.sessions.now()) {
		return nil, ErrInvalidRegistrationToken
	}
	if credential.State != CredentialWaitingForRegister {
		return nil, ErrAlreadyRegistered
	}

	if credential.UserID != nil {
		// Defensive: a pending credential should have no user, but if one is
		// bound the token is only valid for exactly that user.
		if requiredSubjectUser == nil || *credential.UserID != *requiredSubjectUser {
			return nil, ErrUserMismatch
		}
		return &RegistrationTokenResult{Credential: credential, Login: login, Mode: ModeLink}, nil
	}

	mode := ModeSelfRegister
	if requiredSubjectUser != nil {
		mode = ModeLink
	}
	return &RegistrationTokenResult{Credential: credential, Login: login, Mode: mode}, nil
}
