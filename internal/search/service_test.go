package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orion-services/activity/internal/store"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

type fakeIndex struct {
	mu        sync.Mutex
	healthy   bool
	searchFn  func(q Query) ([]Result, int, error)
	indexed   []WorkflowRecord
	indexedCh chan WorkflowRecord
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(q Query) ([]Result, int, error) {
	return f.searchFn(q)
}

func (f *fakeIndex) IndexWorkflow(record WorkflowRecord) error {
	if f.indexedCh != nil {
		f.indexedCh <- record
	}
	return nil
}

func (f *fakeIndex) IndexWorkflows(records []WorkflowRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
	return nil
}

type fakeCatalog struct {
	searchFn func(ctx context.Context, query string, limit int) ([]store.Workflow, error)
}

func (f *fakeCatalog) SearchWorkflows(ctx context.Context, query string, limit int) ([]store.Workflow, error) {
	return f.searchFn(ctx, query, limit)
}

var circle = store.Workflow{
	ID:          "w1",
	Name:        "Circle",
	Description: "ordered writing",
	Stages:      []store.Stage{{Phase: store.PhaseDuring, Steps: []store.Step{{Kind: store.StepCircleOfWriters}, {Kind: store.StepSendEmailNotification}}}},
}

func catalogOf(items ...store.Workflow) *fakeCatalog {
	return &fakeCatalog{searchFn: func(context.Context, string, int) ([]store.Workflow, error) { return items, nil }}
}

func TestSearchUsesHealthyIndex(t *testing.T) {
	idx := &fakeIndex{healthy: true, searchFn: func(q Query) ([]Result, int, error) {
		return []Result{{ID: "w1", Name: "Circle"}}, 1, nil
	}}
	svc := &Service{index: idx, catalog: catalogOf(), log: zap.NewNop()}

	resp := svc.Search(context.Background(), Query{Text: "circle"})
	if resp.Source != "index" || resp.Total != 1 || resp.Results[0].ID != "w1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSearchFallsBackToCatalog(t *testing.T) {
	tests := []struct {
		name  string
		index *fakeIndex
	}{
		{name: "no index"},
		{name: "unhealthy index", index: &fakeIndex{healthy: false}},
		{name: "index error", index: &fakeIndex{healthy: true, searchFn: func(Query) ([]Result, int, error) {
			return nil, 0, errors.New("boom")
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &Service{catalog: catalogOf(circle), log: zap.NewNop()}
			if tt.index != nil {
				svc.index = tt.index
			}
			resp := svc.Search(context.Background(), Query{Text: "circle"})
			if resp.Source != "catalog" || len(resp.Results) != 1 {
				t.Fatalf("unexpected response: %+v", resp)
			}
			got := resp.Results[0]
			if got.Name != "Circle" || len(got.Steps) != 2 || got.Phases[0] != "DURING" {
				t.Fatalf("unexpected result: %+v", got)
			}
		})
	}
}

func TestSearchCatalogErrorReturnsEmpty(t *testing.T) {
	svc := NewService(nil, &fakeCatalog{searchFn: func(context.Context, string, int) ([]store.Workflow, error) {
		return nil, errors.New("db down")
	}}, nil)
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}

func TestIndexWorkflowSkipsUnhealthyIndex(t *testing.T) {
	idx := &fakeIndex{healthy: false, indexedCh: make(chan WorkflowRecord, 1)}
	svc := &Service{index: idx, log: zap.NewNop()}
	svc.IndexWorkflow(RecordFromWorkflow(circle))

	select {
	case <-idx.indexedCh:
		t.Fatal("expected no indexing while unhealthy")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestIndexWorkflowPushesRecord(t *testing.T) {
	idx := &fakeIndex{healthy: true, indexedCh: make(chan WorkflowRecord, 1)}
	svc := &Service{index: idx, log: zap.NewNop()}
	svc.IndexWorkflow(RecordFromWorkflow(circle))

	select {
	case record := <-idx.indexedCh:
		if record.ID != "w1" {
			t.Fatalf("unexpected record: %+v", record)
		}
	case <-time.After(time.Second):
		t.Fatal("expected workflow to be indexed")
	}
}

func TestReindexAllLoadsCatalog(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	svc := &Service{index: idx, catalog: catalogOf(circle, store.Workflow{ID: "w2", Name: "Snowball"}), log: zap.NewNop()}
	svc.ReindexAll(context.Background())

	if len(idx.indexed) != 2 {
		t.Fatalf("expected 2 reindexed workflows, got %d", len(idx.indexed))
	}
}

func TestStoreCatalogSearchesStore(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	_ = mem.InTx(ctx, func(tx store.Tx) error { return tx.SaveWorkflow(ctx, circle) })

	items, err := StoreCatalog{Store: mem}.SearchWorkflows(ctx, "ordered", 10)
	if err != nil {
		t.Fatalf("SearchWorkflows() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != "w1" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":          json.RawMessage(`"w1"`),
		"name":        json.RawMessage(`"Circle"`),
		"description": json.RawMessage(`"ordered writing"`),
		"phases":      json.RawMessage(`["DURING"]`),
		"steps":       json.RawMessage(`["CircleOfWriters"]`),
		"_formatted":  json.RawMessage(`{"description":"<mark>ordered</mark> writing","phases":["DURING"]}`),
	}
	got := hitToResult(hit)
	if got.ID != "w1" || got.Name != "Circle" || got.Snippet != "<mark>ordered</mark> writing" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if len(got.Phases) != 1 || len(got.Steps) != 1 {
		t.Fatalf("unexpected lists: %+v", got)
	}
}
