// Package filter compiles user filter trees into vector-index filter
// expressions, resolving tracking-id references via the relational store.
// Grounded on original_source/server/src/operators/search_operator.rs's
// assemble_qdrant_filter.
package filter

import (
	"context"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/apperr"
	"github.com/trieve/retrieval-core/internal/model"
	"github.com/trieve/retrieval-core/internal/vectorstore"
)

// IDResolver resolves tracking ids to internal/point ids via the
// relational store. A single lookup is issued per field, per the
// contract in spec 4.1.
type IDResolver interface {
	ResolveChunkTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error)
	ResolveGroupTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error)
	// ResolveGroupMemberPointIDs returns the point ids of every chunk that
	// belongs to any of the given groups, used for group_ids /
	// group_metadata.* filters (spec 4.1).
	ResolveGroupMemberPointIDs(ctx context.Context, datasetID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error)
	// ResolveGroupsByMetadata returns group ids whose metadata satisfies a
	// JSON-containment match.
	ResolveGroupsByMetadata(ctx context.Context, datasetID uuid.UUID, key string, value any) ([]uuid.UUID, error)
}

// Compiler translates FilterTree + ParsedQuery into a vectorstore.Filter.
type Compiler struct {
	resolver IDResolver
}

func New(resolver IDResolver) *Compiler {
	return &Compiler{resolver: resolver}
}

// Compile builds the compiled filter for a request. qdrantOnly signals
// that metadata.* conditions should compile directly against the index
// payload rather than a relational join (spec 4.1).
func (c *Compiler) Compile(ctx context.Context, datasetID uuid.UUID, tree model.FilterTree, parsed model.ParsedQuery, qdrantOnly bool) (*vectorstore.Filter, error) {
	out := &vectorstore.Filter{
		Must: []vectorstore.Condition{{Kind: vectorstore.CondMatchKeyword, Field: "dataset_id", Text: datasetID.String()}},
	}

	for _, cond := range tree.Should {
		compiled, err := c.compileField(ctx, datasetID, cond, qdrantOnly, false)
		if err != nil {
			return nil, err
		}
		if compiled != nil {
			out.Should = append(out.Should, *compiled)
		}
	}
	for _, cond := range tree.Must {
		compiled, err := c.compileField(ctx, datasetID, cond, qdrantOnly, false)
		if err != nil {
			return nil, err
		}
		if compiled != nil {
			out.Must = append(out.Must, *compiled)
		}
	}
	for _, cond := range tree.MustNot {
		compiled, err := c.compileField(ctx, datasetID, cond, qdrantOnly, true)
		if err != nil {
			return nil, err
		}
		if compiled != nil {
			out.MustNot = append(out.MustNot, *compiled)
		}
	}

	for _, qw := range parsed.QuoteWords {
		out.Must = append(out.Must, vectorstore.Condition{Kind: vectorstore.CondMatchText, Field: "content", Text: qw})
	}
	for _, nw := range parsed.NegatedWords {
		out.MustNot = append(out.MustNot, vectorstore.Condition{Kind: vectorstore.CondMatchText, Field: "content", Text: nw})
	}

	return out, nil
}

func (c *Compiler) compileField(ctx context.Context, datasetID uuid.UUID, cond model.FilterCondition, qdrantOnly bool, isMustNot bool) (*vectorstore.Condition, error) {
	if cond.Type == model.ConditionHasIDs {
		return c.compileHasIDs(cond, isMustNot)
	}

	switch cond.Field {
	case "ids":
		if isMustNot {
			return nil, apperr.BadRequest("must_not filters do not work with id or tracking_id")
		}
		ids := make([]uuid.UUID, 0, len(cond.AnyValues))
		for _, v := range cond.AnyValues {
			if s, ok := v.(string); ok {
				if id, err := uuid.Parse(s); err == nil {
					ids = append(ids, id)
				}
			}
		}
		return &vectorstore.Condition{Kind: vectorstore.CondHasID, IDs: ids}, nil

	case "tracking_ids":
		if isMustNot {
			return nil, apperr.BadRequest("must_not filters do not work with id or tracking_id")
		}
		trackingIDs := make([]string, 0, len(cond.AnyValues))
		for _, v := range cond.AnyValues {
			if s, ok := v.(string); ok {
				trackingIDs = append(trackingIDs, s)
			}
		}
		ids, err := c.resolver.ResolveChunkTrackingIDs(ctx, datasetID, trackingIDs)
		if err != nil {
			return nil, apperr.Internal(err, "resolving tracking ids")
		}
		return &vectorstore.Condition{Kind: vectorstore.CondHasID, IDs: ids}, nil

	case "group_tracking_ids":
		return c.compileGroupTrackingIDs(ctx, datasetID, cond)

	case "group_ids":
		groupIDs := toUUIDs(cond.AnyValues)
		pointIDs, err := c.resolver.ResolveGroupMemberPointIDs(ctx, datasetID, groupIDs)
		if err != nil {
			return nil, apperr.Internal(err, "resolving group members")
		}
		if len(pointIDs) == 0 {
			return &vectorstore.Condition{Kind: vectorstore.CondNever}, nil
		}
		return &vectorstore.Condition{Kind: vectorstore.CondHasID, IDs: pointIDs}, nil
	}

	if isGroupMetadataField(cond.Field) {
		return c.compileGroupMetadata(ctx, datasetID, cond)
	}
	if isMetadataField(cond.Field) && !qdrantOnly {
		return compileMetadataRelational(cond)
	}

	return compileDirect(cond)
}

func (c *Compiler) compileHasIDs(cond model.FilterCondition, isMustNot bool) (*vectorstore.Condition, error) {
	if isMustNot {
		return nil, apperr.BadRequest("must_not filters do not work with id or tracking_id")
	}
	if len(cond.InternalIDs) == 0 && len(cond.TrackingIDs) > 0 {
		return nil, apperr.BadRequest("HasIds with tracking ids requires resolution; use the ids/tracking_ids field form")
	}
	return &vectorstore.Condition{Kind: vectorstore.CondHasID, IDs: cond.InternalIDs}, nil
}

func (c *Compiler) compileGroupTrackingIDs(ctx context.Context, datasetID uuid.UUID, cond model.FilterCondition) (*vectorstore.Condition, error) {
	trackingIDs := make([]string, 0, len(cond.AnyValues))
	for _, v := range cond.AnyValues {
		if s, ok := v.(string); ok {
			trackingIDs = append(trackingIDs, s)
		}
	}
	groupIDs, err := c.resolver.ResolveGroupTrackingIDs(ctx, datasetID, trackingIDs)
	if err != nil {
		return nil, apperr.Internal(err, "resolving group tracking ids")
	}
	// If any tracking id failed to resolve, the resolver returns fewer
	// ids than requested; insert a sentinel so the clause can never
	// broaden to "all groups" by accident (spec 4.1).
	if len(groupIDs) < len(trackingIDs) {
		groupIDs = append(groupIDs, uuid.Nil)
	}
	pointIDs, err := c.resolver.ResolveGroupMemberPointIDs(ctx, datasetID, groupIDs)
	if err != nil {
		return nil, apperr.Internal(err, "resolving group members")
	}
	if len(pointIDs) == 0 {
		return &vectorstore.Condition{Kind: vectorstore.CondNever}, nil
	}
	return &vectorstore.Condition{Kind: vectorstore.CondHasID, IDs: pointIDs}, nil
}

func (c *Compiler) compileGroupMetadata(ctx context.Context, datasetID uuid.UUID, cond model.FilterCondition) (*vectorstore.Condition, error) {
	var value any
	if len(cond.AnyValues) > 0 {
		value = cond.AnyValues[0]
	}
	groupIDs, err := c.resolver.ResolveGroupsByMetadata(ctx, datasetID, stripMetadataPrefix(cond.Field, "group_metadata."), value)
	if err != nil {
		return nil, apperr.Internal(err, "resolving group metadata")
	}
	pointIDs, err := c.resolver.ResolveGroupMemberPointIDs(ctx, datasetID, groupIDs)
	if err != nil {
		return nil, apperr.Internal(err, "resolving group members")
	}
	if len(pointIDs) == 0 {
		return &vectorstore.Condition{Kind: vectorstore.CondNever}, nil
	}
	return &vectorstore.Condition{Kind: vectorstore.CondHasID, IDs: pointIDs}, nil
}

// compileMetadataRelational compiles metadata.* as payload JSON
// containment directly against the index; the "relational" distinction
// only matters for the write path (out of scope here), so both branches
// converge on the same payload condition in this read-only core.
func compileMetadataRelational(cond model.FilterCondition) (*vectorstore.Condition, error) {
	return compileDirect(cond)
}

func compileDirect(cond model.FilterCondition) (*vectorstore.Condition, error) {
	field := stripMetadataPrefix(cond.Field, "metadata.")

	switch cond.Match {
	case model.MatchAny:
		if cond.Range != nil {
			return nil, apperr.BadRequest("match_any cannot coexist with range on field %q", cond.Field)
		}
		return &vectorstore.Condition{Kind: vectorstore.CondMatchAny, Field: field, Any: cond.AnyValues}, nil

	case model.MatchAll:
		if cond.Range != nil {
			return nil, apperr.BadRequest("match_all cannot coexist with range on field %q", cond.Field)
		}
		nested := &vectorstore.Filter{}
		for _, v := range cond.AllValues {
			nested.Must = append(nested.Must, vectorstore.Condition{Kind: vectorstore.CondMatchKeyword, Field: field, Text: toString(v)})
		}
		return &vectorstore.Condition{Kind: 0, Nested: nested}, nil

	case model.MatchRange, model.MatchDateRange:
		if cond.Range == nil {
			return nil, apperr.BadRequest("range condition on field %q missing bounds", cond.Field)
		}
		return &vectorstore.Condition{
			Kind: vectorstore.CondRange,
			Field: field,
			Gt:   cond.Range.Gt, Gte: cond.Range.Gte, Lt: cond.Range.Lt, Lte: cond.Range.Lte,
		}, nil

	case model.MatchBoolean:
		if cond.Boolean == nil {
			return nil, apperr.BadRequest("boolean condition on field %q missing value", cond.Field)
		}
		val := "false"
		if *cond.Boolean {
			val = "true"
		}
		return &vectorstore.Condition{Kind: vectorstore.CondMatchKeyword, Field: field, Text: val}, nil

	case model.MatchGeoBoundingBox:
		if cond.BBoxMin == nil || cond.BBoxMax == nil {
			return nil, apperr.BadRequest("geo bounding box on field %q missing corners", cond.Field)
		}
		return &vectorstore.Condition{
			Kind:  vectorstore.CondGeoBoundingBox,
			Field: field,
			GeoMin: &vectorstore.GeoPoint{Lat: cond.BBoxMin.Lat, Lon: cond.BBoxMin.Lon},
			GeoMax: &vectorstore.GeoPoint{Lat: cond.BBoxMax.Lat, Lon: cond.BBoxMax.Lon},
		}, nil

	case model.MatchGeoRadius:
		if cond.Radius == nil {
			return nil, apperr.BadRequest("geo radius on field %q missing center/radius", cond.Field)
		}
		return &vectorstore.Condition{
			Kind:       vectorstore.CondGeoRadius,
			Field:      field,
			GeoCenter:  &vectorstore.GeoPoint{Lat: cond.Radius.Center.Lat, Lon: cond.Radius.Center.Lon},
			GeoRadiusM: cond.Radius.Meters,
		}, nil

	case model.MatchGeoPolygon:
		if cond.Polygon == nil || len(cond.Polygon.Exterior) == 0 {
			return nil, apperr.BadRequest("geo polygon on field %q missing exterior ring", cond.Field)
		}
		poly := make([][]vectorstore.GeoPoint, 0, 1+len(cond.Polygon.Interior))
		poly = append(poly, toVSPoints(cond.Polygon.Exterior))
		for _, hole := range cond.Polygon.Interior {
			poly = append(poly, toVSPoints(hole))
		}
		return &vectorstore.Condition{Kind: vectorstore.CondGeoPolygon, Field: field, GeoPolygon: poly}, nil

	default:
		return nil, apperr.BadRequest("no condition kind supplied for field %q", cond.Field)
	}
}

func stripMetadataPrefix(field, prefix string) string {
	if len(field) > len(prefix) && field[:len(prefix)] == prefix {
		return field[len(prefix):]
	}
	return field
}

func isMetadataField(field string) bool {
	return len(field) > len("metadata.") && field[:len("metadata.")] == "metadata."
}

func isGroupMetadataField(field string) bool {
	return field == "group_metadata" || (len(field) > len("group_metadata.") && field[:len("group_metadata.")] == "group_metadata.")
}

func toUUIDs(vals []any) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			if id, err := uuid.Parse(s); err == nil {
				out = append(out, id)
			}
		}
	}
	return out
}

func toVSPoints(pts []model.GeoPoint) []vectorstore.GeoPoint {
	out := make([]vectorstore.GeoPoint, len(pts))
	for i, p := range pts {
		out[i] = vectorstore.GeoPoint{Lat: p.Lat, Lon: p.Lon}
	}
	return out
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
