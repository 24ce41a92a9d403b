package analyzer

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAnalyzeGoProject(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.mod"), `module example.com/demo

go 1.22

require (
	github.com/spf13/cobra v1.8.0
	github.com/google/uuid v1.6.0
	golang.org/x/sys v0.20.0 // indirect
)
`)
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	writeFile(t, filepath.Join(root, "internal", "app", "app.go"), "package app\n")

	a := New(nil)
	analysis, err := a.Analyze(root)
	if err != nil {
		t.Fatal(err)
	}
	if analysis.ProjectInfo.Kind != "go" {
		t.Errorf("kind = %q", analysis.ProjectInfo.Kind)
	}
	if analysis.ProjectInfo.ModuleCount != 2 {
		t.Errorf("modules = %d, want 2", analysis.ProjectInfo.ModuleCount)
	}
	// Indirect requires are not top-level dependencies.
	if len(analysis.Dependencies) != 2 {
		t.Fatalf("deps = %d, want 2: %+v", len(analysis.Dependencies), analysis.Dependencies)
	}
	if analysis.Dependencies[0].Name != "github.com/google/uuid" {
		t.Errorf("deps not sorted: %+v", analysis.Dependencies)
	}
	if analysis.Summary.HealthScore <= 0 {
		t.Errorf("health = %v", analysis.Summary.HealthScore)
	}
	if analysis.Summary.Readiness == "" {
		t.Error("missing readiness")
	}
}

func TestAnalyzeNodeProject(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"), `{
  "dependencies": {"express": "^4.18.0", "left-pad": "*"},
  "devDependencies": {"vitest": "1.0.0"},
  "scripts": {"build": "tsc"}
}`)
	writeFile(t, filepath.Join(root, "src", "index.ts"), "export {}\n")

	a := New(nil)
	analysis, err := a.Analyze(root)
	if err != nil {
		t.Fatal(err)
	}
	if analysis.ProjectInfo.Kind != "node" {
		t.Errorf("kind = %q", analysis.ProjectInfo.Kind)
	}
	if !analysis.ProjectInfo.Optimized {
		t.Error("build script should mark the project optimised")
	}
	if len(analysis.Dependencies) != 3 {
		t.Errorf("deps = %d", len(analysis.Dependencies))
	}
	// The wildcard version drags the security score down.
	var wildcard Dependency
	for _, dep := range analysis.Dependencies {
		if dep.Name == "left-pad" {
			wildcard = dep
		}
	}
	if wildcard.SecurityScore >= 0.5 {
		t.Errorf("wildcard dep score = %v", wildcard.SecurityScore)
	}
}

func TestAnalyzeUnknownProject(t *testing.T) {
	root := t.TempDir()
	a := New(nil)
	analysis, err := a.Analyze(root)
	if err != nil {
		t.Fatal(err)
	}
	if analysis.ProjectInfo.Kind != "unknown" {
		t.Errorf("kind = %q", analysis.ProjectInfo.Kind)
	}
	if len(analysis.BuildIssues) == 0 {
		t.Error("missing manifest should be reported")
	}
}

func TestAnalyzeRejectsFiles(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "f.txt")
	writeFile(t, file, "x")
	a := New(nil)
	if _, err := a.Analyze(file); err == nil {
		t.Error("file accepted as project root")
	}
}

func TestCustomSecurityScorer(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.mod"), "module m\n\nrequire github.com/x/y v1.0.0\n")
	a := New(func(dep Dependency) float64 { return 0.1 })
	analysis, err := a.Analyze(root)
	if err != nil {
		t.Fatal(err)
	}
	if analysis.Dependencies[0].SecurityScore != 0.1 {
		t.Errorf("score = %v", analysis.Dependencies[0].SecurityScore)
	}
	if analysis.Summary.HealthScore > 75 {
		t.Errorf("health = %v despite bad security", analysis.Summary.HealthScore)
	}
}
