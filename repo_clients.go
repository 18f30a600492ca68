package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Clients persists OAuth clients. Built-in internal clients never touch this
// repository; see ClientRegistry.
type Clients interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Client, error)
	Create(ctx context.Context, record *Client) (*Client, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Client) (*Client, error)
	Update(ctx context.Context, record *Client) (*Client, error)
	UpdateTx(ctx context.Context, tx bun.IDB, record *Client) (*Client, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type clients struct {
	repo repository.Repository[*Client]
	db   *bun.DB
}

var _ Clients = (*clients)(nil)

func NewClientsRepository(db *bun.DB) Clients {
	repo := repository.NewRepository[*Client](db, repository.ModelHandlers[*Client]{
		NewRecord: func() *Client { return &Client{} },
		GetID: func(c *Client) uuid.UUID {
			if c == nil {
				return uuid.Nil
			}
			return c.ID
		},
		SetID: func(c *Client, id uuid.UUID) {
			if c != nil {
				c.ID = id
			}
		},
	})
	return &clients{repo: repo, db: db}
}

func (r *clients) GetByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *clients) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Client, error) {
	record := &Client{}
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

func (r *clients) Create(ctx context.Context, record *Client) (*Client, error) {
	return r.CreateTx(ctx, r.db, record)
}

func (r *clients) CreateTx(ctx context.Context, tx bun.IDB, record *Client) (*Client, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.repo.CreateTx(ctx, tx, record)
}

func (r *clients) Update(ctx context.Context, record *Client) (*Client, error) {
	return r.UpdateTx(ctx, r.db, record)
}

func (r *clients) UpdateTx(ctx context.Context, tx bun.IDB, record *Client) (*Client, error) {
	return r.repo.UpdateTx(ctx, tx, record, repository.UpdateByID(record.ID.String()))
}

// Delete soft-deletes the row. Existing sessions are independent entities
// and keep working; only future grants are cut off.
func (r *clients) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*Client)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}
