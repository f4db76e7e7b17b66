package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxWorkflows = "orion_workflows"

// Meili indexes and searches workflows via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the workflow index.
// An unreachable server is tolerated; the health loop picks it up later.
func NewMeili(url, apiKey string, log *zap.Logger) *Meili {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		log.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxWorkflows,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug("create index (may already exist)", zap.String("index", idxWorkflows), zap.Error(err))
	}

	index := m.client.Index(idxWorkflows)
	filterable := []interface{}{"phases", "steps"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", zap.String("index", idxWorkflows), zap.Error(err))
	}
	searchable := []string{"name", "description", "steps"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", zap.String("index", idxWorkflows), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxWorkflows,
			Query:                 q.Text,
			Limit:                 limit,
			AttributesToHighlight: []string{"description"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:          decodeString(hit, "id"),
		Name:        decodeString(hit, "name"),
		Description: decodeString(hit, "description"),
		Snippet:     decodeFormattedString(hit, "description"),
		Phases:      decodeStrings(hit, "phases"),
		Steps:       decodeStrings(hit, "steps"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeStrings(hit meili.Hit, key string) []string {
	out := []string{}
	raw, ok := hit[key]
	if !ok {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// IndexWorkflow adds or updates a workflow in the index.
func (m *Meili) IndexWorkflow(record WorkflowRecord) error {
	_, err := m.client.Index(idxWorkflows).AddDocuments([]WorkflowRecord{record}, nil)
	return err
}

// IndexWorkflows bulk-indexes workflows.
func (m *Meili) IndexWorkflows(records []WorkflowRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxWorkflows).AddDocuments(records, nil)
	return err
}

// DeleteWorkflow removes a workflow from the index.
func (m *Meili) DeleteWorkflow(id string) error {
	_, err := m.client.Index(idxWorkflows).DeleteDocument(id, nil)
	return err
}
