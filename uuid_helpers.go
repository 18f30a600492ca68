package identity

// HasUserUUID reports whether BrokerClaims.UserID will succeed.
func HasUserUUID(claims *BrokerClaims) bool {
	if claims == nil {
		return false
	}
	_, err := claims.UserID()
	return err == nil
}
