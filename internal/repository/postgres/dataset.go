package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trieve/retrieval-core/internal/model"
	"github.com/trieve/retrieval-core/internal/repository"
)

// DatasetRepo implements repository.DatasetRepository.
type DatasetRepo struct {
	db *DB
}

func NewDatasetRepo(db *DB) *DatasetRepo {
	return &DatasetRepo{db: db}
}

func (r *DatasetRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Dataset, error) {
	query := `
		SELECT id, organization_id, name, server_configuration, created_at, updated_at
		FROM datasets
		WHERE id = $1
	`
	var ds model.Dataset
	var rawConfig []byte
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&ds.ID, &ds.OrgID, &ds.Name, &rawConfig, &ds.Created, &ds.Updated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	ds.Config = model.DatasetConfigRef{Raw: rawConfig}
	return &ds, nil
}
