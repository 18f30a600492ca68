package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// RegisterUserMessage finishes a pending registration: a new user is created
// and the waiting credential is bound to it.
type RegisterUserMessage struct {
	Token       string `json:"register_token" form:"register_token"`
	Username    string `json:"username" form:"username"`
	DisplayName string `json:"display_name" form:"display_name"`
	Email       string `json:"email" form:"email"`
	Phone       string `json:"phone" form:"phone"`

	// DefaultRegion resolves national phone numbers, "US" when empty.
	DefaultRegion string `json:"-" form:"-"`

	OnResponse func(*RegisterUserResponse) `json:"-" form:"-"`
}

func (m RegisterUserMessage) Type() string { return "identity.register" }

// Validate will run validation rules
func (m RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Token, validation.Required),
		validation.Field(&m.Username, validation.Required, validation.Length(3, 100)),
		validation.Field(&m.DisplayName, validation.Length(0, 200)),
		validation.Field(&m.Email, validation.Length(6, 100), is.Email),
		validation.Field(&m.Phone, validation.By(validPhone(m.DefaultRegion))),
	)
}

// RegisterUserResponse reports the created user and the credential bound to
// it.
type RegisterUserResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	CredentialID uuid.UUID `json:"credential_id"`
	LoginID      uuid.UUID `json:"login_id"`
}

// RegisterUserHandler consumes registration tokens minted for self signup.
type RegisterUserHandler struct {
	Repo      RepositoryManager
	Validator *RegistrationTokenValidator
	Directory UserDirectory
	Logger    Logger
	Activity  ActivitySink
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload")
	}

	result, err := h.Validator.Validate(ctx, event.Token, nil)
	if err != nil {
		return err
	}

	if result.Mode != ModeSelfRegister {
		return goerrors.New(
			"registration token belongs to a linking flow",
			goerrors.CategoryBadInput,
		).WithTextCode(TextCodeUserMismatch)
	}

	if existing, err := h.Directory.FindUserByUsername(ctx, event.Username); err == nil && existing != uuid.Nil {
		return goerrors.New("username already taken", goerrors.CategoryConflict).
			WithTextCode("USERNAME_TAKEN")
	}

	profile := UserProfile{
		Username:    event.Username,
		DisplayName: displayNameOrUsername(event.DisplayName, event.Username),
		Email:       event.Email,
		Phone:       normalizePhone(event.Phone, event.DefaultRegion),
	}

	var userID uuid.UUID
	err = h.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		userID, err = h.Directory.CreateUser(ctx, profile, false)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		if err := h.Repo.Credentials().AssignUserTx(ctx, tx, result.Credential.ID, userID); err != nil {
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
		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	h.record(ctx, ActivityEvent{
		EventType:  ActivityEventRegistrationDone,
		UserID:     userID.String(),
		LoginID:    result.Login.ID.String(),
		OccurredAt: time.Now(),
		Metadata: map[string]any{
			"credential_id": result.Credential.ID.String(),
			"username":      profile.Username,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(&RegisterUserResponse{
			UserID:       userID,
			CredentialID: result.Credential.ID,
			LoginID:      result.Login.ID,
		})
	}

	return nil
}

func (h *RegisterUserHandler) record(ctx context.Context, event ActivityEvent) {
	sink := normalizeActivitySink(h.Activity)
	if err := sink.Record(ctx, event); err != nil && h.Logger != nil {
		h.Logger.Warn("activity sink rejected %s: %v", event.EventType, err)
	}
}

func displayNameOrUsername(displayName, username string) string {
	if strings.TrimSpace(displayName) != "" {
		return displayName
	}
	return username
}

// validPhone accepts empty values; the field is optional.
func validPhone(region string) validation.RuleFunc {
	return func(value any) error {
		raw, _ := value.(string)
		if raw == "" {
			return nil
		}
		num, err := phonenumbers.Parse(raw, regionOrDefault(region))
		if err != nil {
			return errors.New("must be a valid phone number")
		}
		if !phonenumbers.IsValidNumber(num) {
			return errors.New("must be a valid phone number")
		}
		return nil
	}
}

// normalizePhone formats to E.164 so lookups are canonical. Invalid input
// passes through untouched; validation already rejected it.
func normalizePhone(raw, region string) string {
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, regionOrDefault(region))
	if err != nil {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func regionOrDefault(region string) string {
	if region == "" {
		return "US"
	}
	return region
}
