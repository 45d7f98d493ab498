package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trieve/retrieval-core/internal/model"
)

// ChunkRepo implements repository.ChunkRepository.
type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// projectionColumns returns the column list for a hydration projection
// (spec 4.7): full mode joins everything, slim drops HTML/content, and
// content-only drops most scalars.
func projectionColumns(projection model.ChunkProjection) string {
	switch projection {
	case model.ProjectionSlim:
		return "id, dataset_id, tracking_id, qdrant_point_id, link, metadata, tag_set, time_stamp, weight, created_at, updated_at"
	case model.ProjectionContentOnly:
		return "id, qdrant_point_id, chunk_html, num_value, weight"
	default:
		return "id, dataset_id, tracking_id, qdrant_point_id, link, chunk_html, metadata, tag_set, location_lat, location_lon, time_stamp, num_value, image_urls, weight, created_at, updated_at"
	}
}

func (r *ChunkRepo) GetByPointIDs(ctx context.Context, datasetID uuid.UUID, pointIDs []uuid.UUID, projection model.ChunkProjection) ([]model.Chunk, error) {
	if len(pointIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM chunk_metadata
		WHERE dataset_id = $1 AND qdrant_point_id = ANY($2)
	`, projectionColumns(projection))

	rows, err := r.db.Pool.Query(ctx, query, datasetID, pointIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows, projection)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading chunk rows: %w", err)
	}
	return chunks, nil
}

func scanChunk(rows pgx.Rows, projection model.ChunkProjection) (model.Chunk, error) {
	var c model.Chunk
	var metadataJSON []byte
	var tagSet []string
	var locLat, locLon *float64
	var imageURLs []string

	var err error
	switch projection {
	case model.ProjectionSlim:
		err = rows.Scan(&c.ID, &c.DatasetID, &c.TrackingID, &c.PointID, &c.Link, &metadataJSON, &tagSet, &c.TimeStamp, &c.Weight, &c.Created, &c.Updated)
	case model.ProjectionContentOnly:
		err = rows.Scan(&c.ID, &c.PointID, &c.HTML, &c.NumValue, &c.Weight)
	default:
		err = rows.Scan(&c.ID, &c.DatasetID, &c.TrackingID, &c.PointID, &c.Link, &c.HTML, &metadataJSON, &tagSet, &locLat, &locLon, &c.TimeStamp, &c.NumValue, &imageURLs, &c.Weight, &c.Created, &c.Updated)
	}
	if err != nil {
		return model.Chunk{}, fmt.Errorf("failed to scan chunk: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &c.Metadata); err != nil {
			return model.Chunk{}, fmt.Errorf("failed to unmarshal chunk metadata: %w", err)
		}
	}
	c.TagSet = tagSet
	c.ImageURLs = imageURLs
	if locLat != nil && locLon != nil {
		c.Location = &model.GeoPoint{Lat: *locLat, Lon: *locLon}
	}
	return c, nil
}

func (r *ChunkRepo) ResolveTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error) {
	if len(trackingIDs) == 0 {
		return nil, nil
	}
	query := `SELECT qdrant_point_id FROM chunk_metadata WHERE dataset_id = $1 AND tracking_id = ANY($2)`
	rows, err := r.db.Pool.Query(ctx, query, datasetID, trackingIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tracking ids: %w", err)
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
