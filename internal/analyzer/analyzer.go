// Package analyzer inspects a project directory: manifest parsing,
// dependency enumeration, module counting, and a heuristic health
// score.
package analyzer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ProjectInfo describes the detected project.
type ProjectInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"` // go, node, rust, zig, unknown
	Root        string `json:"root"`
	Manifest    string `json:"manifest"`
	ModuleCount int    `json:"module_count"`
	Optimized   bool   `json:"optimized"`
}

// Dependency is one top-level dependency from the manifest.
type Dependency struct {
	Name          string  `json:"name"`
	Version       string  `json:"version"`
	Dev           bool    `json:"dev,omitempty"`
	SecurityScore float64 `json:"security_score"`
}

// Summary blends the heuristics into an overall verdict.
type Summary struct {
	HealthScore     float64  `json:"health_score"` // 0..100
	Readiness       string   `json:"readiness"`    // ready, needs-work, unhealthy
	Recommendations []string `json:"recommendations"`
}

// ProjectAnalysis is the full result.
type ProjectAnalysis struct {
	ProjectInfo  ProjectInfo  `json:"project_info"`
	Dependencies []Dependency `json:"dependencies"`
	BuildIssues  []string     `json:"build_issues"`
	Summary      Summary      `json:"summary"`
}

// SecurityScorer rates one dependency 0..1. The default is a naive
// name-based heuristic; callers may plug a real advisory feed.
type SecurityScorer func(dep Dependency) float64

// Analyzer inspects project directories.
type Analyzer struct {
	score SecurityScorer
}

// New builds an analyzer with the given scorer (nil selects the
// default heuristic).
func New(score SecurityScorer) *Analyzer {
	if score == nil {
		score = defaultSecurityScore
	}
	return &Analyzer{score: score}
}

// manifestProbes maps manifest files to project kinds and source roots.
var manifestProbes = []struct {
	file       string
	kind       string
	sourceGlob string
}{
	{"go.mod", "go", "**/*.go"},
	{"package.json", "node", "src/**/*.{js,jsx,ts,tsx}"},
	{"Cargo.toml", "rust", "src/**/*.rs"},
	{"build.zig", "zig", "src/**/*.zig"},
}

// Analyze inspects the project rooted at path.
func (a *Analyzer) Analyze(path string) (*ProjectAnalysis, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", root)
	}

	analysis := &ProjectAnalysis{
		ProjectInfo: ProjectInfo{
			Name: filepath.Base(root),
			Kind: "unknown",
			Root: root,
		},
	}

	for _, probe := range manifestProbes {
		manifest := filepath.Join(root, probe.file)
		if _, err := os.Stat(manifest); err != nil {
			continue
		}
		analysis.ProjectInfo.Kind = probe.kind
		analysis.ProjectInfo.Manifest = manifest
		deps, issues, optimized, err := parseManifest(probe.kind, manifest)
		if err != nil {
			analysis.BuildIssues = append(analysis.BuildIssues, err.Error())
		}
		analysis.Dependencies = deps
		analysis.BuildIssues = append(analysis.BuildIssues, issues...)
		analysis.ProjectInfo.Optimized = optimized
		analysis.ProjectInfo.ModuleCount = a.countModules(root, probe.sourceGlob)
		break
	}
	if analysis.ProjectInfo.Manifest == "" {
		analysis.BuildIssues = append(analysis.BuildIssues, "no recognised project manifest found")
	}

	for i := range analysis.Dependencies {
		analysis.Dependencies[i].SecurityScore = a.score(analysis.Dependencies[i])
	}
	sort.Slice(analysis.Dependencies, func(i, j int) bool {
		return analysis.Dependencies[i].Name < analysis.Dependencies[j].Name
	})

	analysis.Summary = summarize(analysis)
	return analysis, nil
}

// countModules estimates module count by counting source files under
// the conventional source root.
func (a *Analyzer) countModules(root, pattern string) int {
	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return 0
	}
	count := 0
	for _, m := range matches {
		if strings.Contains(m, "node_modules/") || strings.Contains(m, "vendor/") {
			continue
		}
		count++
	}
	return count
}

// summarize blends optimisation, dependency count and per-dependency
// security into the health score.
func summarize(analysis *ProjectAnalysis) Summary {
	score := 100.0
	var recs []string

	if !analysis.ProjectInfo.Optimized {
		score -= 10
		recs = append(recs, "enable release/optimised builds in the project manifest")
	}
	depCount := len(analysis.Dependencies)
	switch {
	case depCount > 60:
		score -= 25
		recs = append(recs, "dependency count is high; audit for unused dependencies")
	case depCount > 25:
		score -= 10
		recs = append(recs, "consider trimming rarely used dependencies")
	}
	var worst float64 = 1.0
	for _, dep := range analysis.Dependencies {
		if dep.SecurityScore < worst {
			worst = dep.SecurityScore
		}
	}
	score -= (1.0 - worst) * 30
	score -= float64(len(analysis.BuildIssues)) * 5
	if score < 0 {
		score = 0
	}

	readiness := "ready"
	switch {
	case score < 50:
		readiness = "unhealthy"
	case score < 75:
		readiness = "needs-work"
	}
	if len(recs) == 0 {
		recs = append(recs, "no action needed")
	}
	return Summary{HealthScore: score, Readiness: readiness, Recommendations: recs}
}

// defaultSecurityScore is a naive heuristic: pinned versions score
// higher; wildcard or missing versions are penalised.
func defaultSecurityScore(dep Dependency) float64 {
	switch {
	case dep.Version == "" || dep.Version == "*" || dep.Version == "latest":
		return 0.4
	case strings.HasPrefix(dep.Version, "^") || strings.HasPrefix(dep.Version, "~"):
		return 0.7
	default:
		return 0.9
	}
}
