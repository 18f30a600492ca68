package identity

import (
	goerrors "github.com/goliatone/go-errors"
)

const textCodeInvalidCredentialTransition = "INVALID_CREDENTIAL_STATE_TRANSITION"

// ErrInvalidCredentialTransition is returned when a requested credential
// state change is not allowed.
var ErrInvalidCredentialTransition = goerrors.New("invalid credential state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidCredentialTransition).
	WithCode(goerrors.CodeBadRequest)

// credentialTransitions is the closed transition table for UserLoginData.
// A credential becomes VALID exactly once, at registration/linking time.
// BLOCKED can be entered from any state; leaving it is an admin unblock back
// to VALID only.
var credentialTransitions = map[CredentialState][]CredentialState{
	CredentialWaitingForRegister: {CredentialValid, CredentialBlocked},
	CredentialValid:              {CredentialBlocked},
	CredentialBlocked:            {CredentialValid},
}

// CanTransitionCredential reports whether moving a credential from one state
// to another is permitted.
func CanTransitionCredential(from, to CredentialState) bool {
	for _, allowed := range credentialTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionCredential mutates the credential state in memory after checking
// the transition table and the state/user invariant. Persisting the change
// is the caller's job, inside whatever transaction it already holds.
func TransitionCredential(data *UserLoginData, to CredentialState) error {
	if data == nil {
		return ErrCredentialMissing
	}
	if !CanTransitionCredential(data.State, to) {
		return ErrInvalidCredentialTransition
	}

	prev := data.State
	data.State = to
	if err := data.CheckStateInvariant(); err != nil {
		data.State = prev
		return err
	}
	return nil
}
