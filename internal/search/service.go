package search

import (
	"context"

	"go.uber.org/zap"
)

const reindexBatch = 1000

type index interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexWorkflow(record WorkflowRecord) error
	IndexWorkflows(records []WorkflowRecord) error
}

// Service is the facade that tries Meilisearch first and falls back to the
// workflow catalog in the store.
type Service struct {
	index   index
	catalog Catalog
	log     *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, catalog Catalog, log *zap.Logger) *Service {
	s := &Service{catalog: catalog, log: log}
	if meili != nil {
		s.index = meili
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Search tries the index if healthy, otherwise falls back to the catalog.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "index"}
		}
		s.log.Warn("meilisearch error, falling back to catalog", zap.Error(err))
	}

	if s.catalog == nil {
		return Response{Results: []Result{}, Query: q.Text, Source: "catalog"}
	}
	workflows, err := s.catalog.SearchWorkflows(ctx, q.Text, q.Limit)
	if err != nil {
		s.log.Error("catalog search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Source: "catalog"}
	}
	results := make([]Result, 0, len(workflows))
	for _, workflow := range workflows {
		results = append(results, RecordFromWorkflow(workflow).result())
	}
	return Response{Results: results, Total: len(results), Query: q.Text, Source: "catalog"}
}

// IndexWorkflow indexes a workflow (fire-and-forget to Meilisearch).
func (s *Service) IndexWorkflow(record WorkflowRecord) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	go func() {
		if err := s.index.IndexWorkflow(record); err != nil {
			s.log.Warn("index workflow failed", zap.String("workflow", record.ID), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every catalog workflow to the index. Called at startup.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() || s.catalog == nil {
		return
	}
	workflows, err := s.catalog.SearchWorkflows(ctx, "", reindexBatch)
	if err != nil {
		s.log.Warn("reindex load failed", zap.Error(err))
		return
	}
	records := make([]WorkflowRecord, 0, len(workflows))
	for _, workflow := range workflows {
		records = append(records, RecordFromWorkflow(workflow))
	}
	if err := s.index.IndexWorkflows(records); err != nil {
		s.log.Warn("reindex workflows failed", zap.Error(err))
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
