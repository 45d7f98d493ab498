// Package model holds the entities the retrieval core reads: datasets,
// chunks, chunk groups, filter trees, and the intermediate shapes the
// pipeline passes between components.
package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Dataset is an owning organization's corpus. It is created by admin flows
// external to this core and is immutable for the lifetime of a request: a
// request captures one Config snapshot at the top and never re-reads it.
type Dataset struct {
	ID      uuid.UUID
	OrgID   uuid.UUID
	Name    string
	Config  DatasetConfigRef
	Created time.Time
	Updated time.Time
}

// DatasetConfigRef is a pointer-sized handle so model doesn't import config
// (which would create an import cycle); callers resolve it through
// internal/config.
type DatasetConfigRef struct {
	Raw []byte // stored JSON, decoded by internal/config.Decode
}

// GeoPoint is a latitude/longitude pair in degrees; integer and float JSON
// coordinates both decode into its float64 fields.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// HaversineDistanceKm returns the great-circle distance between two points
// in kilometers.
func (p GeoPoint) HaversineDistanceKm(other GeoPoint) float64 {
	const earthRadiusKm = 6371.0
	dLat := toRadians(other.Lat - p.Lat)
	dLon := toRadians(other.Lon - p.Lon)
	lat1 := toRadians(p.Lat)
	lat2 := toRadians(other.Lat)

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)
	a := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Chunk is the atomic retrieval unit. Its three identities (internal id,
// external tracking id, vector-index point id) co-exist and are bijective
// within a dataset; the vector-index payload mirrors a subset of these
// attributes so qdrant-only mode can serve a chunk without the relational
// store.
type Chunk struct {
	ID            uuid.UUID
	DatasetID     uuid.UUID
	TrackingID    string // empty if unset
	PointID       uuid.UUID
	HTML          string // content; may be plain text or HTML
	Link          string
	Metadata      map[string]any // free-form key -> scalar/array
	TagSet        []string       // ordered
	Location      *GeoPoint
	TimeStamp     *time.Time
	NumValue      *float64
	ImageURLs     []string
	Weight        float64 // nonneg, default 0 (treated as identity 1.0 in scoring)
	Created       time.Time
	Updated       time.Time
}

// ChunkGroup is a labeled collection of chunks within a dataset.
type ChunkGroup struct {
	ID         uuid.UUID
	TrackingID string
	DatasetID  uuid.UUID
	Name       string
	Description string
	Metadata   map[string]any
	TagSet     []string
	FileID     *uuid.UUID
}

// ConditionType discriminates the Filter Condition union.
type ConditionType int

const (
	// ConditionField is a Field(field, match kind) condition.
	ConditionField ConditionType = iota
	// ConditionHasIDs is a HasIds({internal ids | tracking ids}) condition.
	ConditionHasIDs
)

// MatchKind discriminates the kind of match carried by a Field condition.
// Exactly one of the corresponding value fields on FilterCondition is set
// per kind.
type MatchKind int

const (
	MatchAny MatchKind = iota
	MatchAll
	MatchRange
	MatchDateRange
	MatchBoolean
	MatchGeoBoundingBox
	MatchGeoRadius
	MatchGeoPolygon
)

// RangeBound carries the four optional numeric bounds a Range/DateRange
// condition may specify. Date bounds arrive already converted to epoch
// seconds by the HTTP layer; no layer rejects a condition that carries
// both numeric and date bounds.
type RangeBound struct {
	Gt  *float64
	Gte *float64
	Lt  *float64
	Lte *float64
}

// GeoPolygon is an outer ring plus optional holes; any winding, first
// point equals last point per ring.
type GeoPolygon struct {
	Exterior []GeoPoint
	Interior [][]GeoPoint
}

// FilterCondition is the tagged-union filter tree leaf. It is a sum type
// modeled with disjoint fields rather than an interface, so JSON
// deserialization can stay untagged as long as variants are unambiguous
// (the field set present in the payload picks the variant).
type FilterCondition struct {
	Type ConditionType

	// Field variant.
	Field     string
	Match     MatchKind
	AnyValues []any // MatchAny
	AllValues []any // MatchAll
	Range     *RangeBound
	Boolean   *bool
	BBoxMin   *GeoPoint
	BBoxMax   *GeoPoint
	Radius    *struct {
		Center GeoPoint
		Meters float64
	}
	Polygon *GeoPolygon

	// HasIds variant.
	InternalIDs []uuid.UUID
	TrackingIDs []string
}

// FilterTree groups conditions as should/must/must_not, per the request
// shape in spec section 6.1.
type FilterTree struct {
	Should  []FilterCondition
	Must    []FilterCondition
	MustNot []FilterCondition
}

// ParsedQuery is the result of quote/negation extraction over free text.
type ParsedQuery struct {
	Text         string
	QuoteWords   []string // include raw quotes, e.g. `"foo bar"`
	NegatedWords []string
}

// SearchResultPoint is a vector-index hit prior to hydration.
type SearchResultPoint struct {
	PointID   uuid.UUID
	Score     float32
	Payload   map[string]any
	Embedding []float32 // present only when MMR was requested
}

// Highlight is a short HTML snippet marking a match location.
type Highlight struct {
	Snippet string
}

// ScoreChunk pairs a hydrated chunk with its final score and optional
// highlights.
type ScoreChunk struct {
	Chunk      Chunk
	Score      float32
	Highlights []Highlight
}

// GroupScoreChunk is a group with its ordered (by descending score) list
// of member score chunks.
type GroupScoreChunk struct {
	Group  ChunkGroup
	Chunks []ScoreChunk
	FileID *uuid.UUID
}

// SearchType enumerates the retrieval methods a request may select.
type SearchType int

const (
	SearchSemantic SearchType = iota
	SearchFulltext
	SearchBM25
	SearchHybrid
)

// RerankType enumerates what sort_options.sort_by.rerank_by may name:
// another retrieval method used as an inner prefetch query, or the
// dedicated cross-encoder.
type RerankType int

const (
	RerankNone RerankType = iota
	RerankSemantic
	RerankFulltext
	RerankBM25
	RerankCrossEncoder
)

// SortOptions controls the Post-Scorer (spec 4.6).
type SortOptions struct {
	RerankBy     RerankType
	RecencyBias  float32 // >= 0
	LocationBias *struct {
		Location GeoPoint
		Bias     float64 // >= 0
	}
	UseWeights bool // default true
	TagWeights map[string]float64
	MMR        *MMROptions
}

// MMROptions controls Maximal Marginal Relevance diversity reranking.
type MMROptions struct {
	UseMMR    bool
	MMRLambda float64 // [0,1]
}

// HighlightStrategy selects the local scoring algorithm used for snippet
// extraction.
type HighlightStrategy int

const (
	HighlightV1 HighlightStrategy = iota
	HighlightExactMatch
)

// HighlightOptions controls Chunk Hydrator highlight extraction (4.7).
type HighlightOptions struct {
	Enabled    bool // default true
	Strategy   HighlightStrategy
	Threshold  float64 // [0,1] default 0.8
	Delimiters string  // default "?,.!\n\t,"
	MaxLength  int
	MaxNum     int
	Window     int
	PreTag     string
	PostTag    string
}

// DefaultHighlightOptions matches spec 6.1 defaults.
func DefaultHighlightOptions() HighlightOptions {
	return HighlightOptions{
		Enabled:    true,
		Strategy:   HighlightV1,
		Threshold:  0.8,
		Delimiters: "?,.!\n\t,",
		MaxLength:  0,
		MaxNum:     0,
		Window:     0,
		PreTag:     "<mark>",
		PostTag:    "</mark>",
	}
}

// TypoOptions controls optional typo correction (4.10).
type TypoOptions struct {
	CorrectTypos bool
}

// QueryInput is the union of the possible query shapes a request may
// carry: plain text, weighted multi-query, image, or audio.
type QueryInput struct {
	Text          string
	WeightedText  []WeightedQuery // multi-query
	ImageURL      string
	ImageLLMHint  string
	AudioBase64   string
}

// WeightedQuery is one leg of a multi-query semantic search; weights are
// used to scale dense vectors before an unnormalized elementwise sum.
type WeightedQuery struct {
	Text   string
	Weight float32
}

// ChunkProjection selects how much of a Chunk the hydrator populates.
type ChunkProjection int

const (
	ProjectionFull ChunkProjection = iota
	ProjectionSlim
	ProjectionContentOnly
	ProjectionQdrantOnly
)

// SearchRequest is the common shape across ranked/group search requests
// (spec 6.1).
type SearchRequest struct {
	DatasetID         uuid.UUID
	SearchType        SearchType
	Query             QueryInput
	Page              int
	PageSize          int
	Filters           FilterTree
	ScoreThreshold    float32
	SortOptions       *SortOptions
	HighlightOptions  HighlightOptions
	TypoOptions       TypoOptions
	Projection        ChunkProjection
	GetTotalPages     bool
	UseQuoteNegated   bool
	RemoveStopWords   bool
	UserID            string
	GroupID           *uuid.UUID // group-scoped search
	Autocomplete      bool
	ExtendResults     bool
}

// SearchResponse is the ranked-search response shape (spec 6.3).
type SearchResponse struct {
	ID             uuid.UUID
	ScoreChunks    []ScoreChunk
	CorrectedQuery string
	TotalPages     int
}

// SearchOverGroupsResponse is the group-search response shape.
type SearchOverGroupsResponse struct {
	ID             uuid.UUID
	Results        []GroupScoreChunk
	CorrectedQuery string
	TotalPages     int
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180.0 }
