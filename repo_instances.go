package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// StrategyInstances persists configured strategy backends.
type StrategyInstances interface {
	GetByID(ctx context.Context, id uuid.UUID) (*StrategyInstance, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*StrategyInstance, error)
	List(ctx context.Context) ([]*StrategyInstance, error)
	Create(ctx context.Context, record *StrategyInstance) (*StrategyInstance, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *StrategyInstance) (*StrategyInstance, error)
	// UpdateConfig replaces the instance config and capability flags. The
	// type column is immutable; it is never part of the update.
	UpdateConfig(ctx context.Context, record *StrategyInstance) (*StrategyInstance, error)
}

type strategyInstances struct {
	repo repository.Repository[*StrategyInstance]
	db   *bun.DB
}

var _ StrategyInstances = (*strategyInstances)(nil)

func NewStrategyInstancesRepository(db *bun.DB) StrategyInstances {
	repo := repository.NewRepository[*StrategyInstance](db, repository.ModelHandlers[*StrategyInstance]{
		NewRecord: func() *StrategyInstance { return &StrategyInstance{} },
		GetID: func(s *StrategyInstance) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *StrategyInstance, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
	})
	return &strategyInstances{repo: repo, db: db}
}

func (r *strategyInstances) GetByID(ctx context.Context, id uuid.UUID) (*StrategyInstance, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *strategyInstances) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*StrategyInstance, error) {
	record := &StrategyInstance{}
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

func (r *strategyInstances) List(ctx context.Context) ([]*StrategyInstance, error) {
	var records []*StrategyInstance
	err := r.db.NewSelect().
		Model(&records).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *strategyInstances) Create(ctx context.Context, record *StrategyInstance) (*StrategyInstance, error) {
	return r.CreateTx(ctx, r.db, record)
}

func (r *strategyInstances) CreateTx(ctx context.Context, tx bun.IDB, record *StrategyInstance) (*StrategyInstance, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.repo.CreateTx(ctx, tx, record)
}

func (r *strategyInstances) UpdateConfig(ctx context.Context, record *StrategyInstance) (*StrategyInstance, error) {
	_, err := r.db.NewUpdate().
		Model(record).
		Column("name", "instance_config", "is_login_active", "is_self_register_active", "is_sync_active", "does_implicit_register", "updated_at").
		Where("?TableAlias.id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}
