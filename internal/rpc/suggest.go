package rpc

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// DependencySuggestion is one entry returned by dependency.suggest and
// package.recommend.
type DependencySuggestion struct {
	Name        string `json:"name"`
	Language    string `json:"language"`
	Description string `json:"description"`
	Score       int    `json:"score"`
}

// dependencyIndex is a curated catalogue of well-known libraries per
// ecosystem, matched fuzzily against the user's need.
var dependencyIndex = []DependencySuggestion{
	{Name: "github.com/spf13/cobra", Language: "go", Description: "CLI command framework"},
	{Name: "github.com/spf13/viper", Language: "go", Description: "configuration with files and env"},
	{Name: "modernc.org/sqlite", Language: "go", Description: "cgo-free embedded SQLite"},
	{Name: "github.com/gorilla/websocket", Language: "go", Description: "RFC 6455 websockets"},
	{Name: "github.com/google/uuid", Language: "go", Description: "UUID generation"},
	{Name: "github.com/stretchr/testify", Language: "go", Description: "test assertions and mocks"},
	{Name: "golang.org/x/time/rate", Language: "go", Description: "token-bucket rate limiting"},
	{Name: "github.com/santhosh-tekuri/jsonschema", Language: "go", Description: "JSON schema validation"},
	{Name: "gopkg.in/yaml.v3", Language: "go", Description: "YAML encoding"},
	{Name: "express", Language: "node", Description: "HTTP server framework"},
	{Name: "zod", Language: "node", Description: "schema validation"},
	{Name: "vitest", Language: "node", Description: "test runner"},
	{Name: "ws", Language: "node", Description: "websocket client and server"},
	{Name: "better-sqlite3", Language: "node", Description: "embedded SQLite"},
	{Name: "serde", Language: "rust", Description: "serialization framework"},
	{Name: "tokio", Language: "rust", Description: "async runtime"},
	{Name: "clap", Language: "rust", Description: "CLI argument parsing"},
	{Name: "rusqlite", Language: "rust", Description: "embedded SQLite"},
	{Name: "reqwest", Language: "rust", Description: "HTTP client"},
}

// SuggestDependencies fuzzily ranks the curated index against a free
// text need. Each word of the need is matched on its own and an entry's
// score is the sum over the words it matches. Empty queries return
// nothing.
func SuggestDependencies(query string) []DependencySuggestion {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	haystack := make([]string, len(dependencyIndex))
	for i, dep := range dependencyIndex {
		haystack[i] = dep.Name + " " + dep.Description
	}
	scores := make([]int, len(dependencyIndex))
	matched := make([]bool, len(dependencyIndex))
	for _, word := range strings.Fields(query) {
		for _, m := range fuzzy.Find(word, haystack) {
			scores[m.Index] += m.Score
			matched[m.Index] = true
		}
	}
	out := make([]DependencySuggestion, 0, len(dependencyIndex))
	for i, dep := range dependencyIndex {
		if matched[i] {
			dep.Score = scores[i]
			out = append(out, dep)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	const maxSuggestions = 8
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}
