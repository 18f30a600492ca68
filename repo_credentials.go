package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LoginCredentials persists UserLoginData records.
type LoginCredentials interface {
	GetByID(ctx context.Context, id uuid.UUID) (*UserLoginData, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*UserLoginData, error)
	Create(ctx context.Context, record *UserLoginData) (*UserLoginData, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *UserLoginData) (*UserLoginData, error)
	Update(ctx context.Context, record *UserLoginData) (*UserLoginData, error)
	UpdateTx(ctx context.Context, tx bun.IDB, record *UserLoginData) (*UserLoginData, error)

	// FindByUserAndInstance returns the credential a user has on a strategy
	// instance, if any.
	FindByUserAndInstance(ctx context.Context, userID, instanceID uuid.UUID) (*UserLoginData, error)
	// FindByInstanceAndDataValue locates a credential by a strategy-owned
	// data key, e.g. the upstream subject id of an OIDC identity.
	FindByInstanceAndDataValue(ctx context.Context, instanceID uuid.UUID, key, value string) (*UserLoginData, error)

	// AssignUserTx binds a user to a pending credential and moves it to
	// VALID in a single guarded update. Fails with ErrAlreadyRegistered if
	// the credential left WAITING_FOR_REGISTER concurrently.
	AssignUserTx(ctx context.Context, tx bun.IDB, id, userID uuid.UUID) error
}

type loginCredentials struct {
	repo repository.Repository[*UserLoginData]
	db   *bun.DB
}

var _ LoginCredentials = (*loginCredentials)(nil)

func NewLoginCredentialsRepository(db *bun.DB) LoginCredentials {
	repo := repository.NewRepository[*UserLoginData](db, repository.ModelHandlers[*UserLoginData]{
		NewRecord: func() *UserLoginData { return &UserLoginData{} },
		GetID: func(d *UserLoginData) uuid.UUID {
			if d == nil {
				return uuid.Nil
			}
			return d.ID
		},
		SetID: func(d *UserLoginData, id uuid.UUID) {
			if d != nil {
				d.ID = id
			}
		},
	})
	return &loginCredentials{repo: repo, db: db}
}

func (r *loginCredentials) GetByID(ctx context.Context, id uuid.UUID) (*UserLoginData, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *loginCredentials) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*UserLoginData, error) {
	record := &UserLoginData{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"id": id.String()})
		}
		return nil, err
	}
	return record, nil
}

func (r *loginCredentials) Create(ctx context.Context, record *UserLoginData) (*UserLoginData, error) {
	return r.CreateTx(ctx, r.db, record)
}

func (r *loginCredentials) CreateTx(ctx context.Context, tx bun.IDB, record *UserLoginData) (*UserLoginData, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.State == "" {
		record.State = CredentialWaitingForRegister
	}
	if err := record.CheckStateInvariant(); err != nil {
		return nil, err
	}
	return r.repo.CreateTx(ctx, tx, record)
}

func (r *loginCredentials) Update(ctx context.Context, record *UserLoginData) (*UserLoginData, error) {
	return r.UpdateTx(ctx, r.db, record)
}

func (r *loginCredentials) UpdateTx(ctx context.Context, tx bun.IDB, record *UserLoginData) (*UserLoginData, error) {
	if err := record.CheckStateInvariant(); err != nil {
		return nil, err
	}
	return r.repo.UpdateTx(ctx, tx, record, repository.UpdateByID(record.ID.String()))
}

func (r *loginCredentials) FindByUserAndInstance(ctx context.Context, userID, instanceID uuid.UUID) (*UserLoginData, error) {
	record := &UserLoginData{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.strategy_instance_id = ?", instanceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"user_id": userID.String()})
		}
		return nil, err
	}
	return record, nil
}

func (r *loginCredentials) FindByInstanceAndDataValue(ctx context.Context, instanceID uuid.UUID, key, value string) (*UserLoginData, error) {
	record := &UserLoginData{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.strategy_instance_id = ?", instanceID).
		Where("json_extract(?TableAlias.data, ?) = ?", "$."+key, value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"key": key})
		}
		return nil, err
	}
	return record, nil
}

func (r *loginCredentials) AssignUserTx(ctx context.Context, tx bun.IDB, id, userID uuid.UUID) error {
	now := time.Now()
	res, err := tx.NewUpdate().
		Model((*UserLoginData)(nil)).
		Set("user_id = ?", userID).
		Set("state = ?", CredentialValid).
		Set("expires_at = NULL").
		Set("updated_at = ?", now).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.state = ?", CredentialWaitingForRegister).
		Exec(ctx)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAlreadyRegistered
	}
	return nil
}
