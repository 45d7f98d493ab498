package server

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trieve/retrieval-core/internal/model"
)

// searchRequestDTO is the wire shape of a ranked/group search request
// (spec 6.1). Fields mirror the JSON names the original service accepts.
type searchRequestDTO struct {
	SearchType  string    `json:"search_type"`
	Query       queryDTO  `json:"query"`
	Page        int       `json:"page"`
	PageSize    int       `json:"page_size"`
	Filters     filterTreeDTO `json:"filters"`
	ScoreThreshold float32 `json:"score_threshold"`
	SortOptions *sortOptionsDTO `json:"sort_options"`
	HighlightOptions *highlightOptionsDTO `json:"highlight_options"`
	TypoOptions *typoOptionsDTO `json:"typo_options"`
	SlimChunks  bool   `json:"slim_chunks"`
	ContentOnly bool   `json:"content_only"`
	GetTotalPages bool `json:"get_total_pages"`
	UseQuoteNegatedTerms bool `json:"use_quote_negated_terms"`
	RemoveStopWords bool `json:"remove_stop_words"`
	UserID      string `json:"user_id"`
	GroupID     *uuid.UUID `json:"group_id,omitempty"`
	Autocomplete bool  `json:"autocomplete"`
	ExtendResults bool `json:"extend_results"`
}

// queryDTO is the union of text / weighted / image / audio query shapes.
type queryDTO struct {
	Text         string            `json:"text,omitempty"`
	Weighted     []weightedQueryDTO `json:"weighted,omitempty"`
	ImageURL     string            `json:"image_url,omitempty"`
	ImageLLMHint string            `json:"llm_prompt,omitempty"`
	AudioBase64  string            `json:"audio_base64,omitempty"`
}

type weightedQueryDTO struct {
	Text   string  `json:"text"`
	Weight float32 `json:"weight"`
}

type sortOptionsDTO struct {
	RerankBy     string            `json:"rerank_by"`
	RecencyBias  float32           `json:"recency_bias"`
	LocationBias *locationBiasDTO  `json:"location_bias"`
	UseWeights   *bool             `json:"use_weights"`
	TagWeights   map[string]float64 `json:"tag_weights"`
	MMR          *mmrOptionsDTO    `json:"mmr"`
}

type locationBiasDTO struct {
	Location model.GeoPoint `json:"location"`
	Bias     float64        `json:"bias"`
}

type mmrOptionsDTO struct {
	UseMMR    bool    `json:"use_mmr"`
	MMRLambda float64 `json:"mmr_lambda"`
}

type highlightOptionsDTO struct {
	HighlightResults    *bool   `json:"highlight_results"`
	HighlightStrategy   string  `json:"highlight_strategy"`
	HighlightThreshold  float64 `json:"highlight_threshold"`
	HighlightDelimiters string  `json:"highlight_delimiters"`
	HighlightMaxLength  int     `json:"highlight_max_length"`
	HighlightMaxNum     int     `json:"highlight_max_num"`
	HighlightWindow     int     `json:"highlight_window"`
	PreTag              string  `json:"pre_tag"`
	PostTag             string  `json:"post_tag"`
}

type typoOptionsDTO struct {
	CorrectTypos bool `json:"correct_typos"`
}

type filterTreeDTO struct {
	Should  []filterConditionDTO `json:"should"`
	Must    []filterConditionDTO `json:"must"`
	MustNot []filterConditionDTO `json:"must_not"`
}

// filterConditionDTO is the untagged-union wire shape: the field set
// present picks the variant, matching spec 6.1's "Field | HasChunkId".
type filterConditionDTO struct {
	Field     string        `json:"field,omitempty"`
	MatchAny  []any         `json:"match_any,omitempty"`
	MatchAll  []any         `json:"match_all,omitempty"`
	Range     *rangeDTO     `json:"range,omitempty"`
	DateRange *dateRangeDTO `json:"date_range,omitempty"`
	Boolean   *bool         `json:"boolean,omitempty"`
	GeoBoundingBox *bboxDTO `json:"geo_bounding_box,omitempty"`
	GeoRadius      *radiusDTO `json:"geo_radius,omitempty"`
	GeoPolygon     *polygonDTO `json:"geo_polygon,omitempty"`

	HasChunkIDs      []uuid.UUID `json:"has_chunk_ids,omitempty"`
	HasTrackingIDs   []string    `json:"has_tracking_ids,omitempty"`
}

type rangeDTO struct {
	Gt  *float64 `json:"gt,omitempty"`
	Gte *float64 `json:"gte,omitempty"`
	Lt  *float64 `json:"lt,omitempty"`
	Lte *float64 `json:"lte,omitempty"`
}

// dateRangeDTO carries ISO-8601 date-time strings, parsed to epoch
// seconds before reaching model.RangeBound.
type dateRangeDTO struct {
	Gt  *string `json:"gt,omitempty"`
	Gte *string `json:"gte,omitempty"`
	Lt  *string `json:"lt,omitempty"`
	Lte *string `json:"lte,omitempty"`
}

type bboxDTO struct {
	TopLeft     model.GeoPoint `json:"top_left"`
	BottomRight model.GeoPoint `json:"bottom_right"`
}

type radiusDTO struct {
	Center model.GeoPoint `json:"center"`
	Radius float64        `json:"radius"`
}

type polygonDTO struct {
	Exterior []model.GeoPoint   `json:"exterior"`
	Interior [][]model.GeoPoint `json:"interior,omitempty"`
}

func searchTypeFromString(s string) model.SearchType {
	switch s {
	case "fulltext":
		return model.SearchFulltext
	case "bm25":
		return model.SearchBM25
	case "hybrid":
		return model.SearchHybrid
	default:
		return model.SearchSemantic
	}
}

func searchTypeToString(t model.SearchType) string {
	switch t {
	case model.SearchFulltext:
		return "fulltext"
	case model.SearchBM25:
		return "bm25"
	case model.SearchHybrid:
		return "hybrid"
	default:
		return "semantic"
	}
}

func rerankTypeFromString(s string) model.RerankType {
	switch s {
	case "semantic":
		return model.RerankSemantic
	case "fulltext":
		return model.RerankFulltext
	case "bm25":
		return model.RerankBM25
	case "cross_encoder":
		return model.RerankCrossEncoder
	default:
		return model.RerankNone
	}
}

func highlightStrategyFromString(s string) model.HighlightStrategy {
	if s == "exact-match" {
		return model.HighlightExactMatch
	}
	return model.HighlightV1
}

func (q queryDTO) toModel() model.QueryInput {
	out := model.QueryInput{
		Text:         q.Text,
		ImageURL:     q.ImageURL,
		ImageLLMHint: q.ImageLLMHint,
		AudioBase64:  q.AudioBase64,
	}
	if len(q.Weighted) > 0 {
		out.WeightedText = make([]model.WeightedQuery, len(q.Weighted))
		for i, w := range q.Weighted {
			out.WeightedText[i] = model.WeightedQuery{Text: w.Text, Weight: w.Weight}
		}
	}
	return out
}

func (f filterTreeDTO) toModel() (model.FilterTree, error) {
	should, err := conditionsToModel(f.Should)
	if err != nil {
		return model.FilterTree{}, err
	}
	must, err := conditionsToModel(f.Must)
	if err != nil {
		return model.FilterTree{}, err
	}
	mustNot, err := conditionsToModel(f.MustNot)
	if err != nil {
		return model.FilterTree{}, err
	}
	return model.FilterTree{Should: should, Must: must, MustNot: mustNot}, nil
}

func conditionsToModel(conds []filterConditionDTO) ([]model.FilterCondition, error) {
	out := make([]model.FilterCondition, len(conds))
	for i, c := range conds {
		m, err := c.toModel()
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func (c filterConditionDTO) toModel() (model.FilterCondition, error) {
	if len(c.HasChunkIDs) > 0 || len(c.HasTrackingIDs) > 0 {
		return model.FilterCondition{
			Type:        model.ConditionHasIDs,
			InternalIDs: c.HasChunkIDs,
			TrackingIDs: c.HasTrackingIDs,
		}, nil
	}

	out := model.FilterCondition{Type: model.ConditionField, Field: c.Field}
	switch {
	case len(c.MatchAny) > 0:
		out.Match = model.MatchAny
		out.AnyValues = c.MatchAny
	case len(c.MatchAll) > 0:
		out.Match = model.MatchAll
		out.AllValues = c.MatchAll
	case c.Range != nil:
		out.Match = model.MatchRange
		out.Range = c.Range.toModel()
	case c.DateRange != nil:
		bound, err := c.DateRange.toModel()
		if err != nil {
			return model.FilterCondition{}, err
		}
		out.Match = model.MatchDateRange
		out.Range = bound
	case c.Boolean != nil:
		out.Match = model.MatchBoolean
		out.Boolean = c.Boolean
	case c.GeoBoundingBox != nil:
		out.Match = model.MatchGeoBoundingBox
		out.BBoxMin = &c.GeoBoundingBox.TopLeft
		out.BBoxMax = &c.GeoBoundingBox.BottomRight
	case c.GeoRadius != nil:
		out.Match = model.MatchGeoRadius
		out.Radius = &struct {
			Center model.GeoPoint
			Meters float64
		}{Center: c.GeoRadius.Center, Meters: c.GeoRadius.Radius}
	case c.GeoPolygon != nil:
		out.Match = model.MatchGeoPolygon
		out.Polygon = &model.GeoPolygon{Exterior: c.GeoPolygon.Exterior, Interior: c.GeoPolygon.Interior}
	}
	return out, nil
}

func (r *rangeDTO) toModel() *model.RangeBound {
	if r == nil {
		return nil
	}
	return &model.RangeBound{Gt: r.Gt, Gte: r.Gte, Lt: r.Lt, Lte: r.Lte}
}

// parseISODate parses an ISO-8601 date or date-time string into epoch
// seconds. Bare dates ("2024-01-02") and full RFC3339 timestamps are both
// accepted, matching the original's convert_to_date_time.
func parseISODate(s string) (float64, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return float64(t.Unix()), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, fmt.Errorf("bad ISO date %q: %w", s, err)
	}
	return float64(t.Unix()), nil
}

func (d *dateRangeDTO) toModel() (*model.RangeBound, error) {
	if d == nil {
		return nil, nil
	}
	out := &model.RangeBound{}
	for _, bound := range []struct {
		src *string
		dst **float64
	}{
		{d.Gt, &out.Gt},
		{d.Gte, &out.Gte},
		{d.Lt, &out.Lt},
		{d.Lte, &out.Lte},
	} {
		if bound.src == nil {
			continue
		}
		epoch, err := parseISODate(*bound.src)
		if err != nil {
			return nil, err
		}
		*bound.dst = &epoch
	}
	return out, nil
}

func (s *sortOptionsDTO) toModel() *model.SortOptions {
	if s == nil {
		return nil
	}
	out := &model.SortOptions{
		RerankBy:    rerankTypeFromString(s.RerankBy),
		RecencyBias: s.RecencyBias,
		UseWeights:  true,
		TagWeights:  s.TagWeights,
	}
	if s.UseWeights != nil {
		out.UseWeights = *s.UseWeights
	}
	if s.LocationBias != nil {
		out.LocationBias = &struct {
			Location model.GeoPoint
			Bias     float64
		}{Location: s.LocationBias.Location, Bias: s.LocationBias.Bias}
	}
	if s.MMR != nil {
		out.MMR = &model.MMROptions{UseMMR: s.MMR.UseMMR, MMRLambda: s.MMR.MMRLambda}
	}
	return out
}

func (h *highlightOptionsDTO) toModel() model.HighlightOptions {
	out := model.DefaultHighlightOptions()
	if h == nil {
		return out
	}
	if h.HighlightResults != nil {
		out.Enabled = *h.HighlightResults
	}
	if h.HighlightStrategy != "" {
		out.Strategy = highlightStrategyFromString(h.HighlightStrategy)
	}
	if h.HighlightThreshold != 0 {
		out.Threshold = h.HighlightThreshold
	}
	if h.HighlightDelimiters != "" {
		out.Delimiters = h.HighlightDelimiters
	}
	out.MaxLength = h.HighlightMaxLength
	out.MaxNum = h.HighlightMaxNum
	out.Window = h.HighlightWindow
	if h.PreTag != "" {
		out.PreTag = h.PreTag
	}
	if h.PostTag != "" {
		out.PostTag = h.PostTag
	}
	return out
}

func (req searchRequestDTO) toModel(datasetID uuid.UUID) (model.SearchRequest, error) {
	projection := model.ProjectionFull
	switch {
	case req.ContentOnly:
		projection = model.ProjectionContentOnly
	case req.SlimChunks:
		projection = model.ProjectionSlim
	}

	filters, err := req.Filters.toModel()
	if err != nil {
		return model.SearchRequest{}, err
	}

	return model.SearchRequest{
		DatasetID:            datasetID,
		SearchType:           searchTypeFromString(req.SearchType),
		Query:                req.Query.toModel(),
		Page:                 req.Page,
		PageSize:             req.PageSize,
		Filters:              filters,
		ScoreThreshold:       req.ScoreThreshold,
		SortOptions:          req.SortOptions.toModel(),
		HighlightOptions:     req.HighlightOptions.toModel(),
		TypoOptions:          model.TypoOptions{CorrectTypos: req.TypoOptions != nil && req.TypoOptions.CorrectTypos},
		Projection:           projection,
		GetTotalPages:        req.GetTotalPages,
		UseQuoteNegated:      req.UseQuoteNegatedTerms,
		RemoveStopWords:      req.RemoveStopWords,
		UserID:               req.UserID,
		GroupID:              req.GroupID,
		Autocomplete:         req.Autocomplete,
		ExtendResults:        req.ExtendResults,
	}, nil
}

// Response DTOs (spec 6.3).

type chunkDTO struct {
	ID         uuid.UUID      `json:"id"`
	TrackingID string         `json:"tracking_id,omitempty"`
	HTML       string         `json:"chunk_html,omitempty"`
	Link       string         `json:"link,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TagSet     []string       `json:"tag_set,omitempty"`
	Location   *model.GeoPoint `json:"location,omitempty"`
	TimeStamp  *time.Time     `json:"time_stamp,omitempty"`
	NumValue   *float64       `json:"num_value,omitempty"`
	ImageURLs  []string       `json:"image_urls,omitempty"`
	Weight     float64        `json:"weight"`
}

func chunkToDTO(c model.Chunk) chunkDTO {
	return chunkDTO{
		ID: c.ID, TrackingID: c.TrackingID, HTML: c.HTML, Link: c.Link,
		Metadata: c.Metadata, TagSet: c.TagSet, Location: c.Location,
		TimeStamp: c.TimeStamp, NumValue: c.NumValue, ImageURLs: c.ImageURLs, Weight: c.Weight,
	}
}

type highlightDTO struct {
	Snippet string `json:"snippet"`
}

type scoreChunkDTO struct {
	Chunk      chunkDTO       `json:"chunk"`
	Score      float32        `json:"score"`
	Highlights []highlightDTO `json:"highlights,omitempty"`
}

func scoreChunkToDTO(sc model.ScoreChunk) scoreChunkDTO {
	out := scoreChunkDTO{Chunk: chunkToDTO(sc.Chunk), Score: sc.Score}
	for _, h := range sc.Highlights {
		out.Highlights = append(out.Highlights, highlightDTO{Snippet: h.Snippet})
	}
	return out
}

type searchResponseDTO struct {
	ID             uuid.UUID       `json:"id"`
	ScoreChunks    []scoreChunkDTO `json:"score_chunks"`
	CorrectedQuery string          `json:"corrected_query,omitempty"`
	TotalPages     int             `json:"total_pages"`
}

func searchResponseToDTO(r model.SearchResponse) searchResponseDTO {
	chunks := make([]scoreChunkDTO, len(r.ScoreChunks))
	for i, c := range r.ScoreChunks {
		chunks[i] = scoreChunkToDTO(c)
	}
	return searchResponseDTO{ID: r.ID, ScoreChunks: chunks, CorrectedQuery: r.CorrectedQuery, TotalPages: r.TotalPages}
}

type groupDTO struct {
	ID          uuid.UUID      `json:"id"`
	TrackingID  string         `json:"tracking_id,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	TagSet      []string       `json:"tag_set,omitempty"`
}

func groupToDTO(g model.ChunkGroup) groupDTO {
	return groupDTO{ID: g.ID, TrackingID: g.TrackingID, Name: g.Name, Description: g.Description, Metadata: g.Metadata, TagSet: g.TagSet}
}

type groupScoreChunkDTO struct {
	Group  groupDTO        `json:"group"`
	Chunks []scoreChunkDTO `json:"chunks"`
	FileID *uuid.UUID      `json:"file_id,omitempty"`
}

type searchOverGroupsResponseDTO struct {
	ID             uuid.UUID            `json:"id"`
	Results        []groupScoreChunkDTO `json:"results"`
	CorrectedQuery string               `json:"corrected_query,omitempty"`
	TotalPages     int                  `json:"total_pages"`
}

func searchOverGroupsResponseToDTO(r model.SearchOverGroupsResponse) searchOverGroupsResponseDTO {
	results := make([]groupScoreChunkDTO, len(r.Results))
	for i, g := range r.Results {
		chunks := make([]scoreChunkDTO, len(g.Chunks))
		for j, c := range g.Chunks {
			chunks[j] = scoreChunkToDTO(c)
		}
		results[i] = groupScoreChunkDTO{Group: groupToDTO(g.Group), Chunks: chunks, FileID: g.FileID}
	}
	return searchOverGroupsResponseDTO{ID: r.ID, Results: results, CorrectedQuery: r.CorrectedQuery, TotalPages: r.TotalPages}
}

// ragRequestDTO is the wire shape of a RAG message-create request.
type ragRequestDTO struct {
	TopicID             uuid.UUID     `json:"topic_id"`
	UserMessage         string        `json:"user_message"`
	QueryOverride       string        `json:"query_override,omitempty"`
	SearchType          string        `json:"search_type"`
	Filters             filterTreeDTO `json:"filters"`
	SortOptions         *sortOptionsDTO `json:"sort_options"`
	GroupOriented       bool          `json:"group_oriented"`
	CompletionFirst     bool          `json:"completion_first"`
	OnlyIncludeDocsUsed bool          `json:"only_include_docs_used"`
	Stream              bool          `json:"stream"`
	ImageURLs           []string      `json:"image_urls,omitempty"`
}
