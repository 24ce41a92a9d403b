package routingdb

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ghostkellz/zeke/internal/llm"
)

// EscalationThreshold controls how eagerly the router escalates to
// cloud from hybrid mode.
type EscalationThreshold string

const (
	EscalationLow    EscalationThreshold = "low"
	EscalationMedium EscalationThreshold = "medium"
	EscalationHigh   EscalationThreshold = "high"
)

// Prefs are per-project routing preferences.
type Prefs struct {
	Project             string
	PreferLocal         bool
	MaxCloudCostCents   int64
	LastAlias           string
	LastModel           string
	EscalationThreshold EscalationThreshold
	UpdatedAt           time.Time
}

// DefaultPrefs is returned when a project has no stored row.
func DefaultPrefs(project string) Prefs {
	return Prefs{
		Project:             project,
		PreferLocal:         true,
		EscalationThreshold: EscalationMedium,
	}
}

// ProjectID derives the stable project key from a root path.
func ProjectID(root string) string {
	sum := sha256.Sum256([]byte(root))
	return hex.EncodeToString(sum[:16])
}

// Decision is one routing_stats row. Rows are append-only.
type Decision struct {
	RequestID       string
	Project         string
	Alias           string
	Model           string
	Provider        string
	Intent          string
	SizeHint        string
	LatencyMs       int64 // first-token latency
	TotalDurationMs int64
	TokensIn        int
	TokensOut       int
	CostCents       float64
	Success         bool
	ErrorCode       string
	Escalated       bool
	CreatedAt       time.Time
}

// Validate enforces the stats invariants before insert.
func (d Decision) Validate() error {
	if d.RequestID == "" {
		return fmt.Errorf("decision requires request_id")
	}
	if !d.Success && d.ErrorCode == "" {
		return fmt.Errorf("failed decision requires error_code")
	}
	if d.TokensIn < 0 || d.TokensOut < 0 {
		return fmt.Errorf("token counts must be non-negative")
	}
	return nil
}

// Trace is one routing_trace row, captured from the proxy's
// observability headers.
type Trace struct {
	RequestID      string
	Project        string
	TraceJSON      string
	DecisionReason string
	CandidatesJSON string
	CreatedAt      time.Time
}

// RecordDecision appends a stats row via the writer. Exactly one row is
// written per final request; the INSERT is guarded by a request_id
// existence check so a retried submission stays idempotent.
func (d *DB) RecordDecision(dec Decision) error {
	if err := dec.Validate(); err != nil {
		return err
	}
	if dec.CreatedAt.IsZero() {
		dec.CreatedAt = time.Now()
	}
	d.writer.submit(func(db *sql.DB) error {
		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM routing_stats WHERE request_id = ?`, dec.RequestID).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		_, err := db.Exec(`
INSERT INTO routing_stats
    (request_id, project, alias, model, provider, intent, size_hint,
     latency_ms, total_duration_ms, tokens_in, tokens_out, cost_cents,
     success, error_code, escalated, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			dec.RequestID, dec.Project, nullStr(dec.Alias), dec.Model, dec.Provider,
			dec.Intent, dec.SizeHint, dec.LatencyMs, dec.TotalDurationMs,
			dec.TokensIn, dec.TokensOut, dec.CostCents,
			boolInt(dec.Success), nullStr(dec.ErrorCode), boolInt(dec.Escalated),
			dec.CreatedAt.Unix())
		return err
	})
	return nil
}

// RecordTrace appends a trace row.
func (d *DB) RecordTrace(tr Trace) {
	if tr.TraceJSON == "" && tr.DecisionReason == "" && tr.CandidatesJSON == "" {
		return
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now()
	}
	d.writer.submit(func(db *sql.DB) error {
		_, err := db.Exec(`
INSERT INTO routing_trace (request_id, project, trace_json, decision_reason, candidates_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			tr.RequestID, nullStr(tr.Project), tr.TraceJSON,
			nullStr(tr.DecisionReason), nullStr(tr.CandidatesJSON), tr.CreatedAt.Unix())
		return err
	})
}

// GetPrefs loads a project's preferences, falling back to defaults.
func (d *DB) GetPrefs(project string) (Prefs, error) {
	row := d.db.QueryRow(`
SELECT project, prefer_local, max_cloud_cost_cents, COALESCE(last_alias,''),
       COALESCE(last_model,''), escalation_threshold, updated_at
FROM routing_prefs WHERE project = ?`, project)
	var p Prefs
	var preferLocal int
	var updatedAt int64
	var threshold string
	err := row.Scan(&p.Project, &preferLocal, &p.MaxCloudCostCents, &p.LastAlias,
		&p.LastModel, &threshold, &updatedAt)
	if err == sql.ErrNoRows {
		return DefaultPrefs(project), nil
	}
	if err != nil {
		return Prefs{}, err
	}
	p.PreferLocal = preferLocal != 0
	p.EscalationThreshold = EscalationThreshold(threshold)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return p, nil
}

// PutPrefs upserts a project's preferences and waits for the write.
func (d *DB) PutPrefs(p Prefs) error {
	if p.EscalationThreshold == "" {
		p.EscalationThreshold = EscalationMedium
	}
	return d.writer.submitWait(func(db *sql.DB) error {
		_, err := db.Exec(`
INSERT INTO routing_prefs (project, prefer_local, max_cloud_cost_cents, last_alias, last_model, escalation_threshold, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(project) DO UPDATE SET
    prefer_local = excluded.prefer_local,
    max_cloud_cost_cents = excluded.max_cloud_cost_cents,
    last_alias = excluded.last_alias,
    last_model = excluded.last_model,
    escalation_threshold = excluded.escalation_threshold,
    updated_at = excluded.updated_at`,
			p.Project, boolInt(p.PreferLocal), p.MaxCloudCostCents,
			nullStr(p.LastAlias), nullStr(p.LastModel),
			string(p.EscalationThreshold), time.Now().Unix())
		return err
	})
}

// MonthToDateCostCents sums cloud spend for a project since the start
// of the current month. Used by the router's budget guard.
func (d *DB) MonthToDateCostCents(project string, now time.Time) (float64, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	var total sql.NullFloat64
	err := d.db.QueryRow(`
SELECT SUM(cost_cents) FROM routing_stats
WHERE project = ? AND created_at >= ?`, project, monthStart.Unix()).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

// SuccessRate returns the success ratio for a model over its last n
// stats rows; (1.0, 0) when no history exists.
func (d *DB) SuccessRate(model string, n int) (float64, int, error) {
	rows, err := d.db.Query(`
SELECT success FROM routing_stats WHERE model = ?
ORDER BY created_at DESC LIMIT ?`, model, n)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	var total, ok int
	for rows.Next() {
		var success int
		if err := rows.Scan(&success); err != nil {
			return 0, 0, err
		}
		total++
		if success != 0 {
			ok++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 1.0, 0, nil
	}
	return float64(ok) / float64(total), total, nil
}

// UpsertModel caches one catalog record.
func (d *DB) UpsertModel(rec llm.ModelRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}
	return d.writer.submitWait(func(db *sql.DB) error {
		_, err := db.Exec(`
INSERT INTO models
    (id, provider, name, display_name, family, parameter_size, quantization,
     context_length, capabilities_json, cost_per_1k_tokens_in, cost_per_1k_tokens_out,
     latency_avg_ms, success_rate, available, last_checked, metadata_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    display_name = excluded.display_name,
    family = excluded.family,
    parameter_size = excluded.parameter_size,
    quantization = excluded.quantization,
    context_length = excluded.context_length,
    capabilities_json = excluded.capabilities_json,
    cost_per_1k_tokens_in = excluded.cost_per_1k_tokens_in,
    cost_per_1k_tokens_out = excluded.cost_per_1k_tokens_out,
    success_rate = excluded.success_rate,
    available = excluded.available,
    last_checked = excluded.last_checked,
    metadata_json = excluded.metadata_json`,
			rec.ID, rec.Provider, rec.Name, nullStr(rec.DisplayName),
			nullStr(rec.Family), nullStr(rec.ParameterSize), nullStr(rec.Quantization),
			rec.ContextLength, string(caps), rec.CostInPer1K, rec.CostOutPer1K,
			rec.LatencyAvgMs, rec.SuccessRate, boolInt(rec.Available),
			rec.LastChecked.Unix(), string(meta))
		return err
	})
}

// LoadModels hydrates the in-memory catalog from the cache table.
func (d *DB) LoadModels() ([]llm.ModelRecord, error) {
	rows, err := d.db.Query(`
SELECT id, provider, name, COALESCE(display_name,''), COALESCE(family,''),
       COALESCE(parameter_size,''), COALESCE(quantization,''), context_length,
       capabilities_json, cost_per_1k_tokens_in, cost_per_1k_tokens_out,
       COALESCE(latency_avg_ms, 0), success_rate, available, last_checked, metadata_json
FROM models`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []llm.ModelRecord
	for rows.Next() {
		var rec llm.ModelRecord
		var caps, meta string
		var available int
		var lastChecked int64
		if err := rows.Scan(&rec.ID, &rec.Provider, &rec.Name, &rec.DisplayName,
			&rec.Family, &rec.ParameterSize, &rec.Quantization, &rec.ContextLength,
			&caps, &rec.CostInPer1K, &rec.CostOutPer1K, &rec.LatencyAvgMs,
			&rec.SuccessRate, &available, &lastChecked, &meta); err != nil {
			return nil, err
		}
		rec.Available = available != 0
		rec.LastChecked = time.Unix(lastChecked, 0)
		if err := json.Unmarshal([]byte(caps), &rec.Capabilities); err != nil {
			rec.Capabilities = llm.CapChat
		}
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &rec.Metadata)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// StatsCount returns the number of stats rows for a request id.
func (d *DB) StatsCount(requestID string) (int, error) {
	var count int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM routing_stats WHERE request_id = ?`, requestID).Scan(&count)
	return count, err
}

// Flush blocks until every queued write has been applied. Tests use it
// to observe writer effects deterministically.
func (d *DB) Flush() {
	_ = d.writer.submitWait(func(*sql.DB) error { return nil })
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
