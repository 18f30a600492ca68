package identity

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// ErrNoEmptyString rejects empty secrets before they reach bcrypt
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryBadInput)

// Hasher hashes and verifies passwords and client secrets with a
// configurable bcrypt cost.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using the configured cost, falling back to
// bcrypt.DefaultCost when the cost is out of range.
func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return Hasher{cost: cost}
}

// Hash will generate a password hash
func (h Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	return string(out), err
}

// Compare will validate the given cleartext password matches the hash.
// Mismatches surface as the generic ErrAuthenticationFailed.
func (h Hasher) Compare(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrAuthenticationFailed
		}
		return err
	}
	return nil
}

// CompareAny checks the password against every stored hash and succeeds when
// any of them matches. All hashes are always checked so timing does not leak
// which one matched.
func (h Hasher) CompareAny(password string, hashes []string) error {
	matched := false
	for _, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil {
			matched = true
		}
	}
	if !matched {
		return ErrAuthenticationFailed
	}
	return nil
}
