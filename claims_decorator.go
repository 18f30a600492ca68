package identity

// ClaimsDecorator can mutate allowed claim extensions before an access token
// is signed. Implementations may only touch the Metadata extension field and
// must leave registered/protocol claims untouched so core broker semantics
// stay stable.
type ClaimsDecorator interface {
	Decorate(claims *BrokerClaims) error
}

// ClaimsDecoratorFunc adapts a function into a ClaimsDecorator.
type ClaimsDecoratorFunc func(claims *BrokerClaims) error

// Decorate satisfies the ClaimsDecorator interface.
func (f ClaimsDecoratorFunc) Decorate(claims *BrokerClaims) error {
	if f == nil {
		return nil
	}
	return f(claims)
}

type noopClaimsDecorator struct{}

func (noopClaimsDecorator) Decorate(*BrokerClaims) error {
	return nil
}

func normalizeClaimsDecorator(d ClaimsDecorator) ClaimsDecorator {
	if d == nil {
		return noopClaimsDecorator{}
	}
	return d
}
