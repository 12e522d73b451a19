package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmoiron/sqlx"
)

type ChannelsRepository interface {
	GetForOwner(ctx context.Context, ownerID, id int64) (*model.Channel, error)
}

type ChannelsRepositoryImpl struct {
	db *sqlx.DB
}

func NewChannelsRepository(db *sqlx.DB) *ChannelsRepositoryImpl {
	return &ChannelsRepositoryImpl{db: db}
}

var _ ChannelsRepository = (*ChannelsRepositoryImpl)(nil)

func (r *ChannelsRepositoryImpl) GetForOwner(ctx context.Context, ownerID, id int64) (*model.Channel, error) {
	var ch model.Channel
	err := r.db.GetContext(ctx, &ch, `
		SELECT id, owner_id, username, title, created_at
		  FROM channels
		 WHERE id = ? AND owner_id = ? LIMIT 1
	`, id, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}
