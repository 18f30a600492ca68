package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories plus transactional execution.
type RepositoryManager interface {
	Clients() Clients
	StrategyInstances() StrategyInstances
	Credentials() LoginCredentials
	ActiveLogins() ActiveLogins
	Accesses() LoginAccesses

	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
}

type mngr struct {
	db          *bun.DB
	clients     Clients
	instances   StrategyInstances
	credentials LoginCredentials
	logins      ActiveLogins
	accesses    LoginAccesses
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:          db,
		clients:     NewClientsRepository(db),
		instances:   NewStrategyInstancesRepository(db),
		credentials: NewLoginCredentialsRepository(db),
		logins:      NewActiveLoginsRepository(db),
		accesses:    NewLoginAccessesRepository(db),
	}
}

func (m mngr) Clients() Clients                     { return m.clients }
func (m mngr) StrategyInstances() StrategyInstances { return m.instances }
func (m mngr) Credentials() LoginCredentials        { return m.credentials }
func (m mngr) ActiveLogins() ActiveLogins           { return m.logins }
func (m mngr) Accesses() LoginAccesses              { return m.accesses }

func (m mngr) Validate() error {
	if m.clients == nil {
		return errors.New("repository clients should be initialized")
	}

	if m.instances == nil {
		return errors.New("repository strategyInstances should be initialized")
	}

	if m.credentials == nil {
		return errors.New("repository credentials should be initialized")
	}

	if m.logins == nil {
		return errors.New("repository activeLogins should be initialized")
	}

	if m.accesses == nil {
		return errors.New("repository accesses should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}
