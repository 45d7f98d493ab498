package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/model"
)

// GroupRepo implements repository.GroupRepository.
type GroupRepo struct {
	db *DB
}

func NewGroupRepo(db *DB) *GroupRepo {
	return &GroupRepo{db: db}
}

func (r *GroupRepo) GetByIDs(ctx context.Context, datasetID uuid.UUID, groupIDs []uuid.UUID) ([]model.ChunkGroup, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, tracking_id, dataset_id, name, description, metadata, tag_set, file_id
		FROM groups_dataset
		WHERE dataset_id = $1 AND id = ANY($2)
	`
	rows, err := r.db.Pool.Query(ctx, query, datasetID, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []model.ChunkGroup
	for rows.Next() {
		var g model.ChunkGroup
		var metadataJSON []byte
		var tagSet []string
		var fileID *uuid.UUID
		if err := rows.Scan(&g.ID, &g.TrackingID, &g.DatasetID, &g.Name, &g.Description, &metadataJSON, &tagSet, &fileID); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &g.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal group metadata: %w", err)
			}
		}
		g.TagSet = tagSet
		g.FileID = fileID
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *GroupRepo) ResolveTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error) {
	if len(trackingIDs) == 0 {
		return nil, nil
	}
	query := `SELECT id FROM groups_dataset WHERE dataset_id = $1 AND tracking_id = ANY($2)`
	rows, err := r.db.Pool.Query(ctx, query, datasetID, trackingIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve group tracking ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *GroupRepo) MemberPointIDs(ctx context.Context, datasetID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT cm.qdrant_point_id
		FROM chunk_group_bookmarks b
		JOIN chunk_metadata cm ON cm.id = b.chunk_metadata_id
		WHERE cm.dataset_id = $1 AND b.group_id = ANY($2)
	`
	rows, err := r.db.Pool.Query(ctx, query, datasetID, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve group members: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan point id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *GroupRepo) FindByMetadata(ctx context.Context, datasetID uuid.UUID, key string, value any) ([]uuid.UUID, error) {
	containment, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata probe: %w", err)
	}
	query := `SELECT id FROM groups_dataset WHERE dataset_id = $1 AND metadata @> $2::jsonb`
	rows, err := r.db.Pool.Query(ctx, query, datasetID, containment)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups by metadata: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
