package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LoginAccesses persists per-client access grants.
type LoginAccesses interface {
	GetByID(ctx context.Context, id uuid.UUID) (*ActiveLoginAccess, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*ActiveLoginAccess, error)
	Create(ctx context.Context, record *ActiveLoginAccess) (*ActiveLoginAccess, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *ActiveLoginAccess) (*ActiveLoginAccess, error)

	// FindByCodeFingerprint looks up the grant an authorization code
	// created, used to reject a second exchange of the same code.
	FindByCodeFingerprint(ctx context.Context, fingerprint string) (*ActiveLoginAccess, error)

	// AdvanceCounterTx is the rotation primitive: a compare-and-swap update
	// guarded on the stored counter and validity. It reports whether the
	// swap happened; a false result with no error means the guard did not
	// hold (counter moved or grant already invalid).
	AdvanceCounterTx(ctx context.Context, tx bun.IDB, id uuid.UUID, expected, next int64) (bool, error)

	InvalidateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	// InvalidateByLoginTx kills every grant hanging off a login.
	InvalidateByLoginTx(ctx context.Context, tx bun.IDB, loginID uuid.UUID) error
}

type loginAccesses struct {
	repo repository.Repository[*ActiveLoginAccess]
	db   *bun.DB
}

var _ LoginAccesses = (*loginAccesses)(nil)

func NewLoginAccessesRepository(db *bun.DB) LoginAccesses {
	repo := repository.NewRepository[*ActiveLoginAccess](db, repository.ModelHandlers[*ActiveLoginAccess]{
		NewRecord: func() *ActiveLoginAccess { return &ActiveLoginAccess{} },
		GetID: func(a *ActiveLoginAccess) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *ActiveLoginAccess, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
	})
	return &loginAccesses{repo: repo, db: db}
}

func (r *loginAccesses) GetByID(ctx context.Context, id uuid.UUID) (*ActiveLoginAccess, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *loginAccesses) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*ActiveLoginAccess, error) {
	record := &ActiveLoginAccess{}
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

func (r *loginAccesses) Create(ctx context.Context, record *ActiveLoginAccess) (*ActiveLoginAccess, error) {
	return r.CreateTx(ctx, r.db, record)
}

func (r *loginAccesses) CreateTx(ctx context.Context, tx bun.IDB, record *ActiveLoginAccess) (*ActiveLoginAccess, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	return r.repo.CreateTx(ctx, tx, record)
}

func (r *loginAccesses) FindByCodeFingerprint(ctx context.Context, fingerprint string) (*ActiveLoginAccess, error) {
	record := &ActiveLoginAccess{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.code_fingerprint = ?", fingerprint).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}
	return record, nil
}

func (r *loginAccesses) AdvanceCounterTx(ctx context.Context, tx bun.IDB, id uuid.UUID, expected, next int64) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*ActiveLoginAccess)(nil)).
		Set("refresh_token_counter = ?", next).
		Set("updated_at = ?", time.Now()).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.refresh_token_counter = ?", expected).
		Where("?TableAlias.is_valid = ?", true).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *loginAccesses) InvalidateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*ActiveLoginAccess)(nil)).
		Set("is_valid = ?", false).
		Set("updated_at = ?", time.Now()).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}

func (r *loginAccesses) InvalidateByLoginTx(ctx context.Context, tx bun.IDB, loginID uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*ActiveLoginAccess)(nil)).
		Set("is_valid = ?", false).
		Set("updated_at = ?", time.Now()).
		Where("?TableAlias.active_login_id = ?", loginID).
		Exec(ctx)
	return err
}
