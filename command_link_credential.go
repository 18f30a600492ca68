package identity

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LinkCredentialMessage binds a waiting credential to an existing user. Self
// linking requires the token to have been minted for that same user; admin
// linking may target any user.
type LinkCredentialMessage struct {
	Token  string    `json:"register_token" form:"register_token"`
	UserID uuid.UUID `json:"user_id" form:"user_id"`
	// AsAdmin skips the subject-user match on the token. The caller is
	// responsible for having authorized the actor.
	AsAdmin bool `json:"-" form:"-"`

	OnResponse func(*LinkCredentialResponse) `json:"-" form:"-"`
}

func (m LinkCredentialMessage) Type() string { return "identity.link" }

// Validate will run validation rules
func (m LinkCredentialMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Token, validation.Required),
		validation.Field(&m.UserID, validation.By(requiredUUID)),
	)
}

// LinkCredentialResponse reports the credential that was linked.
type LinkCredentialResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	CredentialID uuid.UUID `json:"credential_id"`
	LoginID      uuid.UUID `json:"login_id"`
}

// LinkCredentialHandler consumes registration tokens minted for linking.
type LinkCredentialHandler struct {
	Repo      RepositoryManager
	Validator *RegistrationTokenValidator
	Directory UserDirectory
	Logger    Logger
	Activity  ActivitySink
}

func (h *LinkCredentialHandler) Execute(ctx context.Context, event LinkCredentialMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during credential linking",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *LinkCredentialHandler) execute(ctx context.Context, event LinkCredentialMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid link payload")
	}

	exists, err := h.Directory.UserExists(ctx, event.UserID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not resolve user")
	}
	if !exists {
		return ErrUserMismatch
	}

	requiredSubject := &event.UserID
	if event.AsAdmin {
		requiredSubject = nil
	}

	result, err := h.Validator.Validate(ctx, event.Token, requiredSubject)
	if err != nil {
		return err
	}

	err = h.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := h.Repo.Credentials().AssignUserTx(ctx, tx, result.Credential.ID, event.UserID); err != nil {
			return err
		}
		if result.Login.LoginDataID == nil {
			return h.Repo.ActiveLogins().SetLoginDataTx(ctx, tx, result.Login.ID, result.Credential.ID)
		}
		return nil
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "credential link transaction failed")
	}

	h.record(ctx, ActivityEvent{
		EventType:  ActivityEventCredentialLinked,
		UserID:     event.UserID.String(),
		LoginID:    result.Login.ID.String(),
		OccurredAt: time.Now(),
		Metadata: map[string]any{
			"credential_id": result.Credential.ID.String(),
			"as_admin":      event.AsAdmin,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(&LinkCredentialResponse{
			UserID:       event.UserID,
			CredentialID: result.Credential.ID,
			LoginID:      result.Login.ID,
		})
	}

	return nil
}

func (h *LinkCredentialHandler) record(ctx context.Context, event ActivityEvent) {
	sink := normalizeActivitySink(h.Activity)
	if err := sink.Record(ctx, event); err != nil && h.Logger != nil {
		h.Logger.Warn("activity sink rejected %s: %v", event.EventType, err)
	}
}

func requiredUUID(value any) error {
	id, _ := value.(uuid.UUID)
	if id == uuid.Nil {
		return errors.New("cannot be blank")
	}
	return nil
}
