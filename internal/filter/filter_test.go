package filter

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/apperr"
	"github.com/trieve/retrieval-core/internal/model"
	"github.com/trieve/retrieval-core/internal/vectorstore"
)

type fakeResolver struct {
	chunkTrackingIDs map[string]uuid.UUID
	groupTrackingIDs map[string]uuid.UUID
	groupMembers     map[uuid.UUID][]uuid.UUID
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		chunkTrackingIDs: map[string]uuid.UUID{},
		groupTrackingIDs: map[string]uuid.UUID{},
		groupMembers:     map[uuid.UUID][]uuid.UUID{},
	}
}

func (r *fakeResolver) ResolveChunkTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, t := range trackingIDs {
		if id, ok := r.chunkTrackingIDs[t]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *fakeResolver) ResolveGroupTrackingIDs(ctx context.Context, datasetID uuid.UUID, trackingIDs []string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, t := range trackingIDs {
		if id, ok := r.groupTrackingIDs[t]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *fakeResolver) ResolveGroupMemberPointIDs(ctx context.Context, datasetID uuid.UUID, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, g := range groupIDs {
		out = append(out, r.groupMembers[g]...)
	}
	return out, nil
}

func (r *fakeResolver) ResolveGroupsByMetadata(ctx context.Context, datasetID uuid.UUID, key string, value any) ([]uuid.UUID, error) {
	return nil, nil
}

func TestCompile_AlwaysScopesToDataset(t *testing.T) {
	c := New(newFakeResolver())
	datasetID := uuid.New()

	out, err := c.Compile(context.Background(), datasetID, model.FilterTree{}, model.ParsedQuery{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Must) != 1 || out.Must[0].Field != "dataset_id" || out.Must[0].Text != datasetID.String() {
		t.Errorf("expected a dataset_id scoping clause, got %+v", out.Must)
	}
}

func TestCompile_QuoteWordsBecomeMustMatchText(t *testing.T) {
	c := New(newFakeResolver())
	parsed := model.ParsedQuery{QuoteWords: []string{"running shoes"}}

	out, err := c.Compile(context.Background(), uuid.New(), model.FilterTree{}, parsed, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, cond := range out.Must {
		if cond.Kind == vectorstore.CondMatchText && cond.Text == "running shoes" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a must match_text clause for the quoted phrase, got %+v", out.Must)
	}
}

func TestCompile_NegatedWordsBecomeMustNot(t *testing.T) {
	c := New(newFakeResolver())
	parsed := model.ParsedQuery{NegatedWords: []string{"leather"}}

	out, err := c.Compile(context.Background(), uuid.New(), model.FilterTree{}, parsed, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.MustNot) != 1 || out.MustNot[0].Text != "leather" {
		t.Errorf("expected a must_not clause for the negated word, got %+v", out.MustNot)
	}
}

func TestCompile_IDsFieldMustNotIsRejected(t *testing.T) {
	c := New(newFakeResolver())
	tree := model.FilterTree{
		MustNot: []model.FilterCondition{{Field: "ids", AnyValues: []any{uuid.New().String()}}},
	}

	_, err := c.Compile(context.Background(), uuid.New(), tree, model.ParsedQuery{}, false)
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("expected a KindBadRequest error, got %v", err)
	}
}

func TestCompile_TrackingIDsResolvedViaResolver(t *testing.T) {
	resolver := newFakeResolver()
	wantID := uuid.New()
	resolver.chunkTrackingIDs["ext-1"] = wantID

	c := New(resolver)
	tree := model.FilterTree{
		Must: []model.FilterCondition{{Field: "tracking_ids", AnyValues: []any{"ext-1"}}},
	}

	out, err := c.Compile(context.Background(), uuid.New(), tree, model.ParsedQuery{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var hasIDCond *vectorstore.Condition
	for i := range out.Must {
		if out.Must[i].Kind == vectorstore.CondHasID {
			hasIDCond = &out.Must[i]
		}
	}
	if hasIDCond == nil || len(hasIDCond.IDs) != 1 || hasIDCond.IDs[0] != wantID {
		t.Errorf("expected resolved tracking id in a has_id clause, got %+v", out.Must)
	}
}

func TestCompile_GroupIDsWithNoMembersCompilesToNever(t *testing.T) {
	c := New(newFakeResolver())
	tree := model.FilterTree{
		Must: []model.FilterCondition{{Field: "group_ids", AnyValues: []any{uuid.New().String()}}},
	}

	out, err := c.Compile(context.Background(), uuid.New(), tree, model.ParsedQuery{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, cond := range out.Must {
		if cond.Kind == vectorstore.CondNever {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a CondNever clause when no group members resolve, got %+v", out.Must)
	}
}

func TestCompileDirect_MatchAny(t *testing.T) {
	cond := model.FilterCondition{Field: "tag", Match: model.MatchAny, AnyValues: []any{"a", "b"}}
	out, err := compileDirect(cond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != vectorstore.CondMatchAny || out.Field != "tag" || len(out.Any) != 2 {
		t.Errorf("unexpected compiled condition: %+v", out)
	}
}

func TestCompileDirect_MatchAnyRejectsRange(t *testing.T) {
	cond := model.FilterCondition{Field: "tag", Match: model.MatchAny, Range: &model.RangeBound{}}
	_, err := compileDirect(cond)
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("expected KindBadRequest for match_any + range, got %v", err)
	}
}

func TestCompileDirect_RangeRequiresBounds(t *testing.T) {
	cond := model.FilterCondition{Field: "num_value", Match: model.MatchRange}
	_, err := compileDirect(cond)
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("expected KindBadRequest for missing bounds, got %v", err)
	}
}

func TestCompileDirect_Boolean(t *testing.T) {
	val := true
	cond := model.FilterCondition{Field: "metadata.active", Match: model.MatchBoolean, Boolean: &val}
	out, err := compileDirect(cond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Field != "active" || out.Text != "true" {
		t.Errorf("expected stripped field name and 'true', got %+v", out)
	}
}

func TestCompileDirect_GeoBoundingBoxRequiresCorners(t *testing.T) {
	cond := model.FilterCondition{Field: "location", Match: model.MatchGeoBoundingBox}
	_, err := compileDirect(cond)
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("expected KindBadRequest for missing corners, got %v", err)
	}
}

func TestStripMetadataPrefix(t *testing.T) {
	if got := stripMetadataPrefix("metadata.color", "metadata."); got != "color" {
		t.Errorf("got %q, want %q", got, "color")
	}
	if got := stripMetadataPrefix("color", "metadata."); got != "color" {
		t.Errorf("expected unprefixed field unchanged, got %q", got)
	}
}

func TestIsMetadataField(t *testing.T) {
	if !isMetadataField("metadata.color") {
		t.Error("expected metadata.color to be a metadata field")
	}
	if isMetadataField("color") {
		t.Error("expected color to not be a metadata field")
	}
}

func TestIsGroupMetadataField(t *testing.T) {
	if !isGroupMetadataField("group_metadata") || !isGroupMetadataField("group_metadata.tier") {
		t.Error("expected both exact and dotted group_metadata fields to match")
	}
	if isGroupMetadataField("metadata.tier") {
		t.Error("expected metadata.tier to not match group_metadata")
	}
}
