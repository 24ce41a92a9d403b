package tools

import (
	"context"
	"encoding/json"

	"github.com/ghostkellz/zeke/internal/analyzer"
)

// AnalyzeTool runs the project analyzer as a tool call.
type AnalyzeTool struct {
	analyzer *analyzer.Analyzer
}

// NewAnalyzeTool wraps an analyzer instance.
func NewAnalyzeTool(a *analyzer.Analyzer) *AnalyzeTool {
	return &AnalyzeTool{analyzer: a}
}

func (t *AnalyzeTool) Name() string       { return "project_analyze" }
func (t *AnalyzeTool) Category() Category { return CategoryAnalyze }
func (t *AnalyzeTool) Description() string {
	return "Analyze a project's manifest, dependencies and health"
}
func (t *AnalyzeTool) RequiresConfirmation() bool { return false }

func (t *AnalyzeTool) Schema() Schema {
	return Schema{
		"path": {Type: "string", Required: true, Description: "Project root directory"},
	}
}

func (t *AnalyzeTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	schema := t.Schema()
	analysis, err := t.analyzer.Analyze(stringParam(params, schema, "path"))
	if err != nil {
		return nil, NewErrorf(ErrExecutionFailed, "analyze: %v", err)
	}
	payload, err := json.Marshal(analysis)
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Output: payload}, nil
}
