// Package repository defines the relational-store collaborator
// interfaces: the durable owner of dataset, chunk, and chunk-group
// records, plus the topic/message persistence the RAG orchestrator
// writes a single assistant turn to after streaming completes.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// DatasetRepository owns dataset records and their configuration
// snapshots.
type DatasetRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Dataset, error)
}

// ChunkRepository owns chunk records, keyed by internal id, tracking id,
// and vector-index point id (spec 3: all three co-exist and are
// bijective within a dataset).
type ChunkRepository interface {
	// GetByPointIDs hydrates chunk records for a ranked list of point
	// ids, in the given projection.
	GetByPointIDs(ctx context.Context, datasetID uuid.UUID, pointIDs []uuid.UUID, projection model.ChunkProjection) ([]model.Chunk, error)

	// ResolveTrackingIDs maps tracking ids to point ids. Unresolved
	// tracking ids are simply omitted from the result (callers detect
	// partial resolution by comparing lengths).
	ResolveTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error)
}

// GroupRepository owns chunk group records and group membership.
type GroupRepository interface {
	GetByIDs(ctx context.Context, datasetID uuid.UUID, groupIDs []uuid.UUID) ([]model.ChunkGroup, error)
	ResolveTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error)
	// MemberPointIDs returns the point ids of every chunk belonging to
	// any of the given groups.
	MemberPointIDs(ctx context.Context, datasetID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error)
	// FindByMetadata returns group ids whose metadata JSON contains key=value.
	FindByMetadata(ctx context.Context, datasetID uuid.UUID, key string, value any) ([]uuid.UUID, error)
}

// Message is a single chat turn persisted for a topic.
type Message struct {
	ID        uuid.UUID
	TopicID   uuid.UUID
	Role      string // "user" | "assistant" | "system"
	Content   string
	PromptTokens     *int
	CompletionTokens *int
	SortOrder int
	CreatedAt time.Time
}

// Topic is a chat thread. Per spec Non-goals, durable storage of chat
// transcripts beyond the assistant turn is out of scope; this store
// still needs to read prior turns to build RAG context.
type Topic struct {
	ID        uuid.UUID
	DatasetID uuid.UUID
	Name      string
	CreatedAt time.Time
}

// MessageRepository owns topic/message persistence.
type MessageRepository interface {
	GetTopicMessages(ctx context.Context, topicID uuid.UUID) ([]Message, error)
	CreateMessage(ctx context.Context, msg *Message) error
}

// IDResolver adapts the chunk and group repositories above to the narrower
// interface internal/filter.Compiler needs, without that package
// depending on this one's full surface.
type IDResolver struct {
	Chunks ChunkRepository
	Groups GroupRepository
}

func (r IDResolver) ResolveChunkTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error) {
	return r.Chunks.ResolveTrackingIDs(ctx, datasetID, trackingIDs)
}

func (r IDResolver) ResolveGroupTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error) {
	return r.Groups.ResolveTrackingIDs(ctx, datasetID, trackingIDs)
}

func (r IDResolver) ResolveGroupMemberPointIDs(ctx context.Context, datasetID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	return r.Groups.MemberPointIDs(ctx, datasetID, groupIDs)
}

func (r IDResolver) ResolveGroupsByMetadata(ctx context.Context, datasetID uuid.UUID, key string, value any) ([]uuid.UUID, error) {
	return r.Groups.FindByMetadata(ctx, datasetID, key, value)
}
