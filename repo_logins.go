package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActiveLogins persists authentication events.
type ActiveLogins interface {
	GetByID(ctx context.Context, id uuid.UUID) (*ActiveLogin, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*ActiveLogin, error)
	Create(ctx context.Context, record *ActiveLogin) (*ActiveLogin, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *ActiveLogin) (*ActiveLogin, error)

	// SetExpirationTx moves the sliding window. The caller computes the new
	// value; this only persists it.
	SetExpirationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, expiresAt time.Time) error
	// SetLoginDataTx binds a credential to a login whose registration
	// completed after the event was created.
	SetLoginDataTx(ctx context.Context, tx bun.IDB, id, loginDataID uuid.UUID) error
	// InvalidateTx flips IsValid off. Logins are never physically deleted
	// here; expired rows wait for the external reaper.
	InvalidateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	// FindValidForCredential returns non-expired, valid logins for a
	// credential, most-recently-expiring first. With syncOnly set, only
	// sync-capable logins are returned.
	FindValidForCredential(ctx context.Context, credentialID uuid.UUID, syncOnly bool, now time.Time) ([]*ActiveLogin, error)
}

type activeLogins struct {
	repo repository.Repository[*ActiveLogin]
	db   *bun.DB
}

var _ ActiveLogins = (*activeLogins)(nil)

func NewActiveLoginsRepository(db *bun.DB) ActiveLogins {
	repo := repository.NewRepository[*ActiveLogin](db, repository.ModelHandlers[*ActiveLogin]{
		NewRecord: func() *ActiveLogin { return &ActiveLogin{} },
		GetID: func(l *ActiveLogin) uuid.UUID {
			if l == nil {
				return uuid.Nil
			}
			return l.ID
		},
		SetID: func(l *ActiveLogin, id uuid.UUID) {
			if l != nil {
				l.ID = id
			}
		},
	})
	return &activeLogins{repo: repo, db: db}
}

func (r *activeLogins) GetByID(ctx context.Context, id uuid.UUID) (*ActiveLogin, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *activeLogins) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*ActiveLogin, error) {
	record := &ActiveLogin{}
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

func (r *activeLogins) Create(ctx context.Context, record *ActiveLogin) (*ActiveLogin, error) {
	return r.CreateTx(ctx, r.db, record)
}

func (r *activeLogins) CreateTx(ctx context.Context, tx bun.IDB, record *ActiveLogin) (*ActiveLogin, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	return r.repo.CreateTx(ctx, tx, record)
}

func (r *activeLogins) SetExpirationTx(ctx context.Context, tx bun.IDB, id uuid.UUID, expiresAt time.Time) error {
	_, err := tx.NewUpdate().
		Model((*ActiveLogin)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("updated_at = ?", time.Now()).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}

func (r *activeLogins) SetLoginDataTx(ctx context.Context, tx bun.IDB, id, loginDataID uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*ActiveLogin)(nil)).
		Set("login_data_id = ?", loginDataID).
		Set("updated_at = ?", time.Now()).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}

func (r *activeLogins) InvalidateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*ActiveLogin)(nil)).
		Set("is_valid = ?", false).
		Set("updated_at = ?", time.Now()).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}

func (r *activeLogins) FindValidForCredential(ctx context.Context, credentialID uuid.UUID, syncOnly bool, now time.Time) ([]*ActiveLogin, error) {
	var records []*ActiveLogin
	q := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.login_data_id = ?", credentialID).
		Where("?TableAlias.is_valid = ?", true).
		Where("?TableAlias.expires_at > ?", now)

	if syncOnly {
		q = q.Where("?TableAlias.supports_sync = ?", true)
	}

	err := q.Order("expires_at DESC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}
