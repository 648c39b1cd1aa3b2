package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	log "github.com/sirupsen/logrus"
)

const (
	defaultLimit   = 20
	healthInterval = 10 * time.Second
)

var errEngineDown = errors.New("meilisearch unhealthy")

// indexSpec describes one Meilisearch index. scopeField holds the board id a
// viewer must participate in to see non-public documents.
type indexSpec struct {
	uid        string
	kind       ResultType
	scopeField string
	filterable []string
	searchable []string
}

var (
	boardIndex = indexSpec{
		uid:        "kanban_boards",
		kind:       ResultBoard,
		scopeField: "id",
		filterable: []string{"id", "public"},
		searchable: []string{"title"},
	}
	cardIndex = indexSpec{
		uid:        "kanban_cards",
		kind:       ResultCard,
		scopeField: "boardId",
		filterable: []string{"boardId", "listId", "public"},
		searchable: []string{"title", "description"},
	}
	indexSpecs = []indexSpec{boardIndex, cardIndex}
)

func specFor(uid string) (indexSpec, bool) {
	for _, spec := range indexSpecs {
		if spec.uid == uid {
			return spec, true
		}
	}
	return indexSpec{}, false
}

// Meili is the Meilisearch backend. It tracks server health in the
// background and reapplies index settings whenever the server comes back.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	stop    chan struct{}
}

// NewMeili never fails: an unreachable server starts out unhealthy.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		stop:   make(chan struct{}),
	}
	m.checkHealth()
	go func() {
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.checkHealth()
			}
		}
	}()
	return m
}

func (m *Meili) checkHealth() {
	_, err := m.client.Health()
	up := err == nil
	if was := m.healthy.Swap(up); up && !was {
		log.Info("search: meilisearch reachable, applying index settings")
		m.applySettings()
	} else if !up && was {
		log.WithError(err).Warn("search: meilisearch unreachable")
	}
}

func (m *Meili) applySettings() {
	for _, spec := range indexSpecs {
		logger := log.WithField("index", spec.uid)
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: spec.uid, PrimaryKey: "id"}); err != nil {
			logger.WithError(err).Debug("search: create index")
		}
		index := m.client.Index(spec.uid)
		filterable := make([]interface{}, len(spec.filterable))
		for i, attr := range spec.filterable {
			filterable[i] = attr
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			logger.WithError(err).Warn("search: filterable attributes")
		}
		searchable := append([]string(nil), spec.searchable...)
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			logger.WithError(err).Warn("search: searchable attributes")
		}
	}
}

func (m *Meili) Close() {
	close(m.stop)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs one multi-search over the indexes q asks for. A transport
// error marks the server unhealthy until the next health check.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.Healthy() {
		return nil, 0, errEngineDown
	}
	queries := searchRequests(q)
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var hits []rankedResult
	total := 0
	for _, part := range resp.Results {
		spec, ok := specFor(part.IndexUID)
		if !ok {
			continue
		}
		total += int(part.EstimatedTotalHits)
		for _, hit := range part.Hits {
			hits = append(hits, decodeHit(hit, spec.kind))
		}
	}
	if len(queries) == 1 {
		results := make([]Result, len(hits))
		for i, hit := range hits {
			results[i] = hit.Result
		}
		return results, total, nil
	}
	return mergePage(hits, q.Offset, pageLimit(q)), total, nil
}

type rankedResult struct {
	Result
	score float64
}

// mergePage orders hits from several indexes by ranking score and cuts the
// requested page out of the combined list.
func mergePage(hits []rankedResult, offset, limit int) []Result {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].ID < hits[j].ID
	})
	if offset >= len(hits) {
		return nil
	}
	hits = hits[offset:]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = hit.Result
	}
	return results
}

func pageLimit(q Query) int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	return q.Limit
}

// searchRequests builds one request per index. Across several indexes each
// one returns the first offset+limit hits so the page can be cut after merging.
func searchRequests(q Query) []*meili.SearchRequest {
	var specs []indexSpec
	for _, spec := range indexSpecs {
		if q.FilterType == "" || q.FilterType == spec.kind {
			specs = append(specs, spec)
		}
	}
	limit, offset := int64(pageLimit(q)), int64(q.Offset)
	if len(specs) > 1 {
		limit, offset = limit+offset, 0
	}
	out := make([]*meili.SearchRequest, 0, len(specs))
	for _, spec := range specs {
		out = append(out, &meili.SearchRequest{
			IndexUID:              spec.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                offset,
			Filter:                visibilityFilter(spec.scopeField, q.BoardIDs),
			AttributesToHighlight: spec.searchable,
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		})
	}
	return out
}

// visibilityFilter matches public documents plus those whose idField is one
// of the viewer's boards.
func visibilityFilter(idField string, boardIDs []string) string {
	if len(boardIDs) == 0 {
		return "public = true"
	}
	quoted := make([]string, len(boardIDs))
	for i, id := range boardIDs {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf("public = true OR %s IN [%s]", idField, strings.Join(quoted, ", "))
}

type indexedHit struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Slug        string  `json:"slug"`
	Description string  `json:"description"`
	BoardID     string  `json:"boardId"`
	BoardSlug   string  `json:"boardSlug"`
	ListID      string  `json:"listId"`
	Score       float64 `json:"_rankingScore"`
	Formatted   struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"_formatted"`
}

// decodeHit prefers highlighted fields and falls back to the raw ones.
func decodeHit(hit meili.Hit, kind ResultType) rankedResult {
	var h indexedHit
	if raw, err := json.Marshal(hit); err == nil {
		_ = json.Unmarshal(raw, &h)
	}

	r := Result{Type: kind, ID: h.ID, Title: firstNonBlank(h.Formatted.Title, h.Title)}
	switch kind {
	case ResultBoard:
		r.BoardID, r.BoardSlug = h.ID, h.Slug
	case ResultCard:
		r.BoardID, r.BoardSlug, r.ListID = h.BoardID, h.BoardSlug, h.ListID
		r.Snippet = firstNonBlank(h.Formatted.Description, h.Description)
	}
	return rankedResult{Result: r, score: h.Score}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (m *Meili) IndexBoards(boards []BoardRecord) error {
	if len(boards) == 0 {
		return nil
	}
	_, err := m.client.Index(boardIndex.uid).AddDocuments(boards, nil)
	return err
}

func (m *Meili) IndexCards(cards []CardRecord) error {
	if len(cards) == 0 {
		return nil
	}
	_, err := m.client.Index(cardIndex.uid).AddDocuments(cards, nil)
	return err
}

func (m *Meili) DeleteBoard(id string) error {
	_, err := m.client.Index(boardIndex.uid).DeleteDocument(id, nil)
	return err
}

func (m *Meili) DeleteCards(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := m.client.Index(cardIndex.uid).DeleteDocuments(ids, nil)
	return err
}
