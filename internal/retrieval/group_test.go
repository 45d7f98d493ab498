package retrieval

import (
	"testing"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/vectorstore"
)

func TestToScoredGroups_CarriesHitScoreAsRerankerScore(t *testing.T) {
	groupID := uuid.New()
	groups := []vectorstore.GroupHit{
		{GroupID: groupID, Hits: []vectorstore.Hit{{ID: uuid.New(), Score: 0.7}}},
	}
	out := toScoredGroups(groups)
	if len(out) != 1 || out[0].GroupID != groupID {
		t.Fatalf("unexpected output: %+v", out)
	}
	if out[0].Hits[0].RerankerScore != 0.7 {
		t.Errorf("RerankerScore = %f, want 0.7", out[0].Hits[0].RerankerScore)
	}
}

func TestMergeGroupHits_CombinesHitsForSameGroup(t *testing.T) {
	groupID := uuid.New()
	denseHit := vectorstore.Hit{ID: uuid.New(), Score: 0.9}
	sparseHit := vectorstore.Hit{ID: uuid.New(), Score: 0.3}

	dense := []vectorstore.GroupHit{{GroupID: groupID, Hits: []vectorstore.Hit{denseHit}}}
	sparse := []vectorstore.GroupHit{{GroupID: groupID, Hits: []vectorstore.Hit{sparseHit}}}

	merged := mergeGroupHits(dense, sparse)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged group, got %d", len(merged))
	}
	if len(merged[0].Hits) != 2 {
		t.Errorf("expected both legs' hits merged, got %d", len(merged[0].Hits))
	}
}

func TestMergeGroupHits_KeepsDistinctGroupsSeparate(t *testing.T) {
	groupA, groupB := uuid.New(), uuid.New()
	dense := []vectorstore.GroupHit{{GroupID: groupA, Hits: []vectorstore.Hit{{ID: uuid.New(), Score: 0.5}}}}
	sparse := []vectorstore.GroupHit{{GroupID: groupB, Hits: []vectorstore.Hit{{ID: uuid.New(), Score: 0.4}}}}

	merged := mergeGroupHits(dense, sparse)
	if len(merged) != 2 {
		t.Errorf("expected 2 distinct groups, got %d", len(merged))
	}
}

func TestMergeGroupHits_PreservesFirstSeenOrder(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	dense := []vectorstore.GroupHit{{GroupID: a}, {GroupID: b}}

	merged := mergeGroupHits(dense, nil)
	if merged[0].GroupID != a || merged[1].GroupID != b {
		t.Errorf("expected order a,b preserved, got %+v", merged)
	}
}
