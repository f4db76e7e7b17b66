package search

import (
	"context"
	"fmt"

	"github.com/orion-services/activity/internal/store"
)

// Result is a single workflow hit returned to the caller.
type Result struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Snippet     string   `json:"snippet,omitempty"`
	Phases      []string `json:"phases"`
	Steps       []string `json:"steps"`
}

// Query describes a search request.
type Query struct {
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// WorkflowRecord is the data we index for a workflow.
type WorkflowRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Phases      []string `json:"phases"`
	Steps       []string `json:"steps"`
}

// RecordFromWorkflow flattens a workflow into its index record.
func RecordFromWorkflow(w store.Workflow) WorkflowRecord {
	record := WorkflowRecord{ID: w.ID, Name: w.Name, Description: w.Description, Phases: []string{}, Steps: []string{}}
	for _, stage := range w.Stages {
		record.Phases = append(record.Phases, string(stage.Phase))
		for _, step := range stage.Steps {
			record.Steps = append(record.Steps, string(step.Kind))
		}
	}
	return record
}

func (r WorkflowRecord) result() Result {
	return Result{ID: r.ID, Name: r.Name, Description: r.Description, Phases: r.Phases, Steps: r.Steps}
}

// Catalog is the authoritative workflow list used when the index is down.
type Catalog interface {
	SearchWorkflows(ctx context.Context, query string, limit int) ([]store.Workflow, error)
}

// StoreCatalog reads workflows straight from the store.
type StoreCatalog struct {
	Store store.Store
}

func (c StoreCatalog) SearchWorkflows(ctx context.Context, query string, limit int) ([]store.Workflow, error) {
	var items []store.Workflow
	err := c.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		items, err = tx.SearchWorkflows(ctx, query, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search workflow catalog: %w", err)
	}
	return items, nil
}
