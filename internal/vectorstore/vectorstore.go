// Package vectorstore provides the vector-index collaborator: a
// dataset-scoped dense+sparse ANN index with payload filtering, prefetch
// fusion, and group-aware search. Everything here is an external
// collaborator boundary per the core's scope — the index itself, its
// durability, and its write path are out of scope; this package only
// plans and issues read queries plus the narrow write path a dataset
// provisioning flow needs.
package vectorstore

import (
	"context"

	"github.com/google/uuid"
)

// SparseVector is a {token id -> weight} map, SPLADE-style or BM25.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Point is a single vector-index record to upsert.
type Point struct {
	ID           uuid.UUID
	Dense        []float32
	Sparse       *SparseVector
	Payload      map[string]any
}

// Hit is a single vector-index search result.
type Hit struct {
	ID        uuid.UUID
	Score     float32
	Payload   map[string]any
	Embedding []float32 // populated only when WithVectors was requested
}

// GroupHit is a group-aware search result: a group id plus its top-k
// member hits. It stores no group-level score; the best hit's score
// stands for the group.
type GroupHit struct {
	GroupID uuid.UUID
	Hits    []Hit
}

// Query is a single planned vector-index query (the unit the Query
// Planner emits, spec 4.3).
type Query struct {
	Dense          []float32
	Sparse         *SparseVector
	Filter         *Filter
	Limit          int
	Offset         int
	ScoreThreshold *float32
	WithVectors    bool // request embeddings back, for MMR (spec 4.4)

	// Prefetch, when set, runs an inner query and reranks its candidates
	// with Dense/Sparse as the outer vector (spec 4.3 rerank_by).
	Prefetch *PrefetchQuery

	// Fusion, when set (hybrid queries), fuses Prefetch legs instead of
	// scoring a single outer vector.
	Fusion *FusionSpec

	GroupBy    string // payload field name for group-aware search (4.8)
	GroupSize  int    // per-group hit cap
}

// PrefetchQuery is the inner stage of a prefetch/rerank query.
type PrefetchQuery struct {
	Dense  []float32
	Sparse *SparseVector
	Limit  int
}

// FusionMethod enumerates supported fusion algorithms.
type FusionMethod int

const (
	FusionRRF FusionMethod = iota
)

// FusionSpec fuses two prefetch legs (dense + sparse) for hybrid search.
type FusionSpec struct {
	Method      FusionMethod
	DenseLeg    PrefetchQuery
	SparseLeg   PrefetchQuery
}

// ConditionKind enumerates the atomic condition shapes the Filter Compiler
// can emit.
type ConditionKind int

const (
	CondMatchKeyword ConditionKind = iota
	CondMatchText
	CondMatchAny
	CondRange
	CondGeoBoundingBox
	CondGeoRadius
	CondGeoPolygon
	CondHasID
	CondIsEmpty
	CondNever // an impossible condition: emitted instead of dropping a clause
)

// Condition is one atomic filter clause.
type Condition struct {
	Kind ConditionKind

	Field string
	Text  string   // MatchKeyword / MatchText
	Any   []any    // MatchAny

	Gt, Gte, Lt, Lte *float64 // Range

	GeoMin, GeoMax *GeoPoint // BoundingBox
	GeoCenter      *GeoPoint // Radius / Polygon center
	GeoRadiusM     float64
	GeoPolygon     [][]GeoPoint // exterior + holes

	IDs []uuid.UUID // HasID

	Nested *Filter // a must-group of single-field matches, for match_all
}

// GeoPoint mirrors model.GeoPoint without importing internal/model, to
// keep this package collaborator-boundary-clean.
type GeoPoint struct {
	Lat, Lon float64
}

// Filter is the compiled should/must/must_not condition set the Filter
// Compiler produces.
type Filter struct {
	Should  []Condition
	Must    []Condition
	MustNot []Condition
}

// VectorIndex is the vector-index collaborator interface. Implementations
// must always scope every query to one dataset's collection.
type VectorIndex interface {
	// EnsureCollection provisions a dataset's collection (dense + sparse
	// named vectors) if it does not already exist. Idempotent.
	EnsureCollection(ctx context.Context, datasetID uuid.UUID, dimension int) error

	// Upsert writes points into a dataset's collection.
	Upsert(ctx context.Context, datasetID uuid.UUID, points []Point) error

	// DeleteByIDs removes points by id.
	DeleteByIDs(ctx context.Context, datasetID uuid.UUID, ids []uuid.UUID) error

	// DeleteByFilter removes points matching a filter.
	DeleteByFilter(ctx context.Context, datasetID uuid.UUID, filter *Filter) error

	// Search runs a single planned query and returns ranked hits.
	Search(ctx context.Context, datasetID uuid.UUID, q Query) ([]Hit, error)

	// SearchGroups runs a group-aware planned query.
	SearchGroups(ctx context.Context, datasetID uuid.UUID, q Query) ([]GroupHit, error)

	// Count returns the number of points matching a filter, for
	// get_total_pages.
	Count(ctx context.Context, datasetID uuid.UUID, filter *Filter) (int, error)
}
