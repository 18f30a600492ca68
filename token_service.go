package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService mints and verifies the broker's token families.
type TokenService interface {
	IssueAccessToken(userID, clientID uuid.UUID, scopes []string) (token string, expiresAt time.Time, err error)
	ValidateAccessToken(token string) (*BrokerClaims, error)

	IssueRefreshToken(accessID uuid.UUID, counter int64) (string, error)
	ValidateRefreshToken(token string) (accessID uuid.UUID, counter int64, err error)

	IssueAuthorizationCode(loginID, clientID uuid.UUID, scopes []string) (string, error)
	ValidateAuthorizationCode(token string, clientID uuid.UUID) (*BrokerClaims, error)

	IssueRegistrationToken(loginID uuid.UUID) (string, error)
	ValidateRegistrationToken(token string) (loginID uuid.UUID, err error)
}

// TokenServiceImpl implements TokenService with HS256 signatures.
type TokenServiceImpl struct {
	signingKey []byte
	cfg        *Config
	logger     Logger
	decorator  ClaimsDecorator
}

var _ TokenService = (*TokenServiceImpl)(nil)

// NewTokenService creates a TokenService from the broker configuration.
func NewTokenService(cfg *Config, logger Logger) *TokenServiceImpl {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenServiceImpl{
		signingKey: []byte(cfg.SigningSecret),
		cfg:        cfg,
		logger:     logger,
		decorator:  noopClaimsDecorator{},
	}
}

// WithClaimsDecorator installs a decorator run on access token claims before
// signing. Decorators may only write the Metadata extension; any other
// mutation aborts issuance.
func (ts *TokenServiceImpl) WithClaimsDecorator(d ClaimsDecorator) *TokenServiceImpl {
	ts.decorator = normalizeClaimsDecorator(d)
	return ts
}

func (ts *TokenServiceImpl) IssueAccessToken(userID, clientID uuid.UUID, scopes []string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ts.cfg.AccessTokenTTL)
	claims := &BrokerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.cfg.Issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Kind:     TokenKindAccess,
		Scope:    JoinScopes(scopes),
		ClientID: clientID.String(),
	}

	snapshot := captureImmutableClaims(claims)
	if err := ts.decorator.Decorate(claims); err != nil {
		return "", time.Time{}, err
	}
	if err := snapshot.validate(claims); err != nil {
		return "", time.Time{}, err
	}

	token, err := ts.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (ts *TokenServiceImpl) ValidateAccessToken(token string) (*BrokerClaims, error) {
	claims, err := ts.parse(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Kind != TokenKindAccess {
		ts.logger.Warn("token of kind %q presented as access token", claims.Kind)
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueRefreshToken encodes the rotation counter. Refresh tokens carry no
// own expiry beyond the session: the counter and the ActiveLogin window are
// the authority.
func (ts *TokenServiceImpl) IssueRefreshToken(accessID uuid.UUID, counter int64) (string, error) {
	now := time.Now()
	claims := &BrokerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.cfg.MaxSessionLifetime)),
			ID:        uuid.NewString(),
		},
		Kind:     TokenKindRefresh,
		AccessID: accessID.String(),
		Counter:  &counter,
	}
	return ts.sign(claims)
}

func (ts *TokenServiceImpl) ValidateRefreshToken(token string) (uuid.UUID, int64, error) {
	claims, err := ts.parse(token)
	if err != nil {
		return uuid.Nil, 0, ErrInvalidToken
	}
	if claims.Kind != TokenKindRefresh || claims.Counter == nil {
		return uuid.Nil, 0, ErrInvalidToken
	}

	accessID, err := uuid.Parse(claims.AccessID)
	if err != nil {
		return uuid.Nil, 0, ErrInvalidToken
	}
	return accessID, *claims.Counter, nil
}

func (ts *TokenServiceImpl) IssueAuthorizationCode(loginID, clientID uuid.UUID, scopes []string) (string, error) {
	now := time.Now()
	claims := &BrokerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.cfg.AuthCodeTTL)),
			ID:        uuid.NewString(),
		},
		Kind:     TokenKindCode,
		Scope:    JoinScopes(scopes),
		ClientID: clientID.String(),
		LoginID:  loginID.String(),
	}
	return ts.sign(claims)
}

func (ts *TokenServiceImpl) ValidateAuthorizationCode(token string, clientID uuid.UUID) (*BrokerClaims, error) {
	claims, err := ts.parse(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Kind != TokenKindCode {
		return nil, ErrInvalidToken
	}
	if claims.ClientID != clientID.String() {
		// A code minted for one client must not be exchangeable by another.
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (ts *TokenServiceImpl) IssueRegistrationToken(loginID uuid.UUID) (string, error) {
	now := time.Now()
	claims := &BrokerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.cfg.RegistrationTokenTTL)),
			ID:        uuid.NewString(),
		},
		Kind:    TokenKindRegistration,
		LoginID: loginID.String(),
	}
	return ts.sign(claims)
}

func (ts *TokenServiceImpl) ValidateRegistrationToken(token string) (uuid.UUID, error) {
	claims, err := ts.parse(token)
	if err != nil {
		return uuid.Nil, ErrInvalidRegistrationToken
	}
	if claims.Kind != TokenKindRegistration {
		return uuid.Nil, ErrInvalidRegistrationToken
	}

	loginID, err := uuid.Parse(claims.LoginID)
	if err != nil {
		return uuid.Nil, ErrInvalidRegistrationToken
	}
	return loginID, nil
}

func (ts *TokenServiceImpl) sign(claims *BrokerClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}
	return signed, nil
}

func (ts *TokenServiceImpl) parse(tokenString string) (*BrokerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &BrokerClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, jwt.WithIssuer(ts.cfg.Issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*BrokerClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
