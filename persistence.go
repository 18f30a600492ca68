package identity

import (
	persistence "github.com/goliatone/go-persistence-bun"
)

// RegisterModels registers the broker tables with the persistence client so
// fixtures and migrations resolve them. Call once before persistence.New.
func RegisterModels() {
	persistence.RegisterModel((*Client)(nil))
	persistence.RegisterModel((*StrategyInstance)(nil))
	persistence.RegisterModel((*UserLoginData)(nil))
	persistence.RegisterModel((*ActiveLogin)(nil))
	persistence.RegisterModel((*ActiveLoginAccess)(nil))
}
