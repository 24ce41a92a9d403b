package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Capability is a bit in a model's capability set.
type Capability uint8

const (
	CapCode Capability = 1 << iota
	CapChat
	CapVision
	CapTools
	CapReasoning
)

var capNames = []struct {
	cap  Capability
	name string
}{
	{CapCode, "code"},
	{CapChat, "chat"},
	{CapVision, "vision"},
	{CapTools, "tools"},
	{CapReasoning, "reasoning"},
}

// String renders the set as a comma-joined list, e.g. "code,chat".
func (c Capability) String() string {
	var parts []string
	for _, n := range capNames {
		if c&n.cap != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseCapabilities builds a capability set from names; unknown names
// are ignored.
func ParseCapabilities(names []string) Capability {
	var c Capability
	for _, name := range names {
		for _, n := range capNames {
			if n.name == strings.ToLower(strings.TrimSpace(name)) {
				c |= n.cap
			}
		}
	}
	return c
}

// MarshalJSON encodes the set as a JSON array of names, matching the
// capabilities_json column format.
func (c Capability) MarshalJSON() ([]byte, error) {
	var parts []string
	for _, n := range capNames {
		if c&n.cap != 0 {
			parts = append(parts, n.name)
		}
	}
	return json.Marshal(parts)
}

// UnmarshalJSON accepts a JSON array of capability names.
func (c *Capability) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*c = ParseCapabilities(names)
	return nil
}

// ModelRecord is one catalog entry. ID is "<provider>:<model-name>".
type ModelRecord struct {
	ID            string            `json:"id"`
	Provider      string            `json:"provider"`
	Name          string            `json:"name"`
	DisplayName   string            `json:"display_name,omitempty"`
	Family        string            `json:"family,omitempty"`
	ParameterSize string            `json:"parameter_size,omitempty"`
	Quantization  string            `json:"quantization,omitempty"`
	ContextLength int               `json:"context_length"`
	Capabilities  Capability        `json:"capabilities"`
	CostInPer1K   float64           `json:"cost_per_1k_tokens_in"`
	CostOutPer1K  float64           `json:"cost_per_1k_tokens_out"`
	LatencyAvgMs  float64           `json:"latency_avg_ms,omitempty"`
	SuccessRate   float64           `json:"success_rate"`
	Available     bool              `json:"available"`
	LastChecked   time.Time         `json:"last_checked"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ModelID builds a catalog id from its parts.
func ModelID(provider, name string) string {
	return provider + ":" + name
}

// Validate enforces the record invariants before a catalog insert.
func (m ModelRecord) Validate() error {
	if m.Provider == "" || m.Name == "" {
		return fmt.Errorf("model record missing provider or name")
	}
	if m.ContextLength < 1 {
		return fmt.Errorf("model %s: context_length must be >= 1", m.ID)
	}
	if m.SuccessRate < 0 || m.SuccessRate > 1 {
		return fmt.Errorf("model %s: success_rate out of range: %f", m.ID, m.SuccessRate)
	}
	return nil
}

// Catalog caches model records per provider. Read-mostly; filled from
// the routing DB at startup, by doctor and by the provider.test RPC
// method. Routing a request does not add records. The router tolerates
// stale entries: availability here is advisory, never authoritative.
type Catalog struct {
	mu      sync.RWMutex
	records map[string]ModelRecord
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{records: make(map[string]ModelRecord)}
}

// Put inserts or replaces a record after validation.
func (c *Catalog) Put(rec ModelRecord) error {
	if rec.ID == "" {
		rec.ID = ModelID(rec.Provider, rec.Name)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.records[rec.ID] = rec
	c.mu.Unlock()
	return nil
}

// Get returns a record by id.
func (c *Catalog) Get(id string) (ModelRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	return rec, ok
}

// ByProvider returns all records for a provider, name-sorted.
func (c *Catalog) ByProvider(provider string) []ModelRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ModelRecord
	for _, rec := range c.records {
		if rec.Provider == provider {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns every record, id-sorted.
func (c *Catalog) All() []ModelRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModelRecord, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Candidates returns available records whose capabilities satisfy the
// intent, cheapest first. Used by the router's cloud tie-break.
func (c *Catalog) Candidates(intent Intent) []ModelRecord {
	need := capabilityFor(intent)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ModelRecord
	for _, rec := range c.records {
		if !rec.Available {
			continue
		}
		if rec.Capabilities&need != need {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		ci := out[i].CostInPer1K + out[i].CostOutPer1K
		cj := out[j].CostInPer1K + out[j].CostOutPer1K
		if ci != cj {
			return ci < cj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarkChecked updates availability and the check timestamp for a record
// without replacing adapter-supplied metadata.
func (c *Catalog) MarkChecked(id string, available bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return
	}
	rec.Available = available
	rec.LastChecked = at
	c.records[id] = rec
}

func capabilityFor(intent Intent) Capability {
	switch intent {
	case IntentCode, IntentCompletion, IntentRefactor, IntentTests:
		return CapCode
	case IntentReason, IntentArchitecture:
		return CapChat | CapReasoning
	default:
		return CapChat
	}
}
