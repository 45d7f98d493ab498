package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// QdrantStore implements VectorIndex using Qdrant, one collection per
// dataset.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a new Qdrant vector store client. addr should be
// in "host:port" form (e.g. "localhost:6334").
func NewQdrantStore(addr string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func collectionName(datasetID uuid.UUID) string {
	return "dataset_" + datasetID.String()
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, datasetID uuid.UUID, dimension int) error {
	name := collectionName(datasetID)

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, datasetID uuid.UUID, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	name := collectionName(datasetID)

	out := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]*qdrant.Value{}
		for k, v := range p.Payload {
			payload[k] = toQdrantValue(v)
		}

		vectors := &qdrant.NamedVectors{Vectors: map[string]*qdrant.Vector{
			denseVectorName: {Data: p.Dense},
		}}
		if p.Sparse != nil && len(p.Sparse.Indices) > 0 {
			vectors.Vectors[sparseVectorName] = &qdrant.Vector{
				Indices: &qdrant.SparseIndices{Data: p.Sparse.Indices},
				Data:    p.Sparse.Values,
			}
		}

		out[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID.String()),
			Payload: payload,
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vectors{Vectors: vectors}},
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         out,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (s *QdrantStore) DeleteByIDs(ctx context.Context, datasetID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	name := collectionName(datasetID)

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id.String())
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by ids: %w", err)
	}
	return nil
}

func (s *QdrantStore) DeleteByFilter(ctx context.Context, datasetID uuid.UUID, filter *Filter) error {
	name := collectionName(datasetID)

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: toQdrantFilter(filter),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, datasetID uuid.UUID, q Query) ([]Hit, error) {
	name := collectionName(datasetID)

	points, err := s.client.Query(ctx, buildQueryPoints(name, q))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, toHit(p))
	}
	return hits, nil
}

func (s *QdrantStore) SearchGroups(ctx context.Context, datasetID uuid.UUID, q Query) ([]GroupHit, error) {
	name := collectionName(datasetID)

	groupBy := q.GroupBy
	if groupBy == "" {
		groupBy = "group_ids"
	}
	groupSize := uint64(q.GroupSize)
	if groupSize == 0 {
		groupSize = 3
	}

	qp := buildQueryPoints(name, q)
	resp, err := s.client.QueryGroups(ctx, &qdrant.QueryPointsGroups{
		CollectionName: name,
		Query:          qp.Query,
		Prefetch:       qp.Prefetch,
		Filter:         qp.Filter,
		WithPayload:    qp.WithPayload,
		WithVectors:    qp.WithVectors,
		Using:          qp.Using,
		GroupBy:        groupBy,
		GroupSize:      qdrant.PtrOf(groupSize),
		Limit:          qp.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to group search: %w", err)
	}

	groups := make([]GroupHit, 0, len(resp.GetGroups()))
	for _, g := range resp.GetGroups() {
		gh := GroupHit{}
		if gid, err := uuid.Parse(g.GetId().GetStringValue()); err == nil {
			gh.GroupID = gid
		}
		for _, hit := range g.GetHits() {
			gh.Hits = append(gh.Hits, toHit(hit))
		}
		groups = append(groups, gh)
	}
	return groups, nil
}

func (s *QdrantStore) Count(ctx context.Context, datasetID uuid.UUID, filter *Filter) (int, error) {
	name := collectionName(datasetID)

	resp, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Filter:         toQdrantFilter(filter),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return int(resp), nil
}

func buildQueryPoints(collection string, q Query) *qdrant.QueryPoints {
	qp := &qdrant.QueryPoints{
		CollectionName: collection,
		Filter:         toQdrantFilter(q.Filter),
		Limit:          qdrant.PtrOf(uint64(q.Limit)),
		Offset:         qdrant.PtrOf(uint64(q.Offset)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if q.WithVectors {
		qp.WithVectors = qdrant.NewWithVectors(true)
	}
	if q.ScoreThreshold != nil {
		qp.ScoreThreshold = qdrant.PtrOf(*q.ScoreThreshold)
	}

	switch {
	case q.Fusion != nil:
		qp.Prefetch = []*qdrant.PrefetchQuery{
			{Query: qdrant.NewQueryDense(q.Fusion.DenseLeg.Dense), Using: qdrant.PtrOf(denseVectorName), Limit: qdrant.PtrOf(uint64(q.Fusion.DenseLeg.Limit))},
			{Query: qdrant.NewQuerySparse(q.Fusion.SparseLeg.Sparse.Indices, q.Fusion.SparseLeg.Sparse.Values), Using: qdrant.PtrOf(sparseVectorName), Limit: qdrant.PtrOf(uint64(q.Fusion.SparseLeg.Limit))},
		}
		qp.Query = qdrant.NewQueryFusion(qdrant.Fusion_RRF)
	case q.Prefetch != nil:
		prefetch := &qdrant.PrefetchQuery{Limit: qdrant.PtrOf(uint64(q.Prefetch.Limit))}
		if q.Prefetch.Sparse != nil {
			prefetch.Query = qdrant.NewQuerySparse(q.Prefetch.Sparse.Indices, q.Prefetch.Sparse.Values)
			prefetch.Using = qdrant.PtrOf(sparseVectorName)
		} else {
			prefetch.Query = qdrant.NewQueryDense(q.Prefetch.Dense)
			prefetch.Using = qdrant.PtrOf(denseVectorName)
		}
		qp.Prefetch = []*qdrant.PrefetchQuery{prefetch}
		if q.Sparse != nil {
			qp.Query = qdrant.NewQuerySparse(q.Sparse.Indices, q.Sparse.Values)
			qp.Using = qdrant.PtrOf(sparseVectorName)
		} else {
			qp.Query = qdrant.NewQueryDense(q.Dense)
			qp.Using = qdrant.PtrOf(denseVectorName)
		}
	case q.Sparse != nil:
		qp.Query = qdrant.NewQuerySparse(q.Sparse.Indices, q.Sparse.Values)
		qp.Using = qdrant.PtrOf(sparseVectorName)
	default:
		qp.Query = qdrant.NewQueryDense(q.Dense)
		qp.Using = qdrant.PtrOf(denseVectorName)
	}

	return qp
}

func toHit(p *qdrant.ScoredPoint) Hit {
	h := Hit{
		Score:   p.GetScore(),
		Payload: map[string]any{},
	}
	if id, err := uuid.Parse(p.GetId().GetUuid()); err == nil {
		h.ID = id
	}
	for k, v := range p.GetPayload() {
		h.Payload[k] = fromQdrantValue(v)
	}
	if vecs := p.GetVectors(); vecs != nil {
		if named := vecs.GetVectors(); named != nil {
			if dv, ok := named.GetVectors()[denseVectorName]; ok {
				h.Embedding = dv.GetData()
			}
		} else if dense := vecs.GetVector(); dense != nil {
			h.Embedding = dense.GetData()
		}
	}
	return h
}

func toQdrantFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	out := &qdrant.Filter{}
	for _, c := range f.Should {
		out.Should = append(out.Should, toQdrantCondition(c))
	}
	for _, c := range f.Must {
		out.Must = append(out.Must, toQdrantCondition(c))
	}
	for _, c := range f.MustNot {
		out.MustNot = append(out.MustNot, toQdrantCondition(c))
	}
	return out
}

func toQdrantCondition(c Condition) *qdrant.Condition {
	switch c.Kind {
	case CondMatchKeyword:
		return qdrant.NewMatch(c.Field, c.Text)
	case CondMatchText:
		return qdrant.NewMatchText(c.Field, c.Text)
	case CondMatchAny:
		return qdrant.NewMatchKeywords(c.Field, anysToStrings(c.Any)...)
	case CondRange:
		r := &qdrant.Range{}
		if c.Gt != nil {
			r.Gt = c.Gt
		}
		if c.Gte != nil {
			r.Gte = c.Gte
		}
		if c.Lt != nil {
			r.Lt = c.Lt
		}
		if c.Lte != nil {
			r.Lte = c.Lte
		}
		return qdrant.NewRange(c.Field, r)
	case CondGeoBoundingBox:
		return qdrant.NewGeoBoundingBox(c.Field,
			c.GeoMax.Lat, c.GeoMin.Lon,
			c.GeoMin.Lat, c.GeoMax.Lon,
		)
	case CondGeoRadius:
		return qdrant.NewGeoRadius(c.Field, float32(c.GeoCenter.Lat), float32(c.GeoCenter.Lon), float32(c.GeoRadiusM))
	case CondHasID:
		ids := make([]*qdrant.PointId, len(c.IDs))
		for i, id := range c.IDs {
			ids[i] = qdrant.NewIDUUID(id.String())
		}
		return qdrant.NewHasID(ids...)
	case CondIsEmpty:
		return qdrant.NewIsEmpty(c.Field)
	case CondNever:
		// No id will ever equal the nil UUID we reserve as a sentinel;
		// this keeps the clause structurally present but unmatchable,
		// per the filter compiler's "emit an impossible condition rather
		// than dropping the clause" rule.
		return qdrant.NewHasID(qdrant.NewIDUUID(uuid.Nil.String()))
	default:
		if c.Nested != nil {
			return &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Filter{Filter: toQdrantFilter(c.Nested)},
			}
		}
		return qdrant.NewIsEmpty(c.Field)
	}
}

func anysToStrings(vals []any) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprintf("%v", v))
		}
	}
	return out
}

func toQdrantValue(v any) *qdrant.Value {
	switch t := v.(type) {
	case string:
		return qdrant.NewValueString(t)
	case float64:
		return qdrant.NewValueDouble(t)
	case int:
		return qdrant.NewValueInt(int64(t))
	case bool:
		return qdrant.NewValueBool(t)
	case []string:
		list := make([]*qdrant.Value, len(t))
		for i, s := range t {
			list[i] = qdrant.NewValueString(s)
		}
		return qdrant.NewValueList(list)
	default:
		return qdrant.NewValueString(fmt.Sprintf("%v", t))
	}
}

func fromQdrantValue(v *qdrant.Value) any {
	switch v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return v.GetStringValue()
	case *qdrant.Value_DoubleValue:
		return v.GetDoubleValue()
	case *qdrant.Value_IntegerValue:
		return v.GetIntegerValue()
	case *qdrant.Value_BoolValue:
		return v.GetBoolValue()
	default:
		return nil
	}
}

var _ VectorIndex = (*QdrantStore)(nil)
