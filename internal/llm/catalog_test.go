package llm

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCapabilityRoundTrip(t *testing.T) {
	caps := CapCode | CapChat | CapReasoning
	data, err := json.Marshal(caps)
	if err != nil {
		t.Fatal(err)
	}
	var back Capability
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != caps {
		t.Errorf("round trip: %s != %s", back, caps)
	}
}

func TestParseCapabilitiesIgnoresUnknown(t *testing.T) {
	caps := ParseCapabilities([]string{"code", "bogus", "vision"})
	if caps != CapCode|CapVision {
		t.Errorf("caps = %s", caps)
	}
}

func TestModelRecordValidate(t *testing.T) {
	base := ModelRecord{ID: "p:m", Provider: "p", Name: "m", ContextLength: 1, SuccessRate: 1}
	if err := base.Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}

	bad := base
	bad.ContextLength = 0
	if err := bad.Validate(); err == nil {
		t.Error("context_length 0 accepted")
	}

	bad = base
	bad.SuccessRate = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("success_rate 1.5 accepted")
	}
}

func TestCatalogCandidatesOrdering(t *testing.T) {
	c := NewCatalog()
	now := time.Now()
	put := func(id string, costIn, costOut float64, caps Capability, available bool) {
		provider, name := id[:1], id[2:]
		if err := c.Put(ModelRecord{
			ID: id, Provider: provider, Name: name,
			ContextLength: 8192, Capabilities: caps,
			CostInPer1K: costIn, CostOutPer1K: costOut,
			SuccessRate: 1, Available: available, LastChecked: now,
		}); err != nil {
			t.Fatal(err)
		}
	}
	put("a:cheap", 0.001, 0.002, CapCode|CapChat, true)
	put("b:pricey", 0.01, 0.03, CapCode|CapChat, true)
	put("c:down", 0.0001, 0.0001, CapCode|CapChat, false)
	put("d:nochat", 0.0001, 0.0001, CapVision, true)

	cands := c.Candidates(IntentCode)
	if len(cands) != 2 {
		t.Fatalf("candidates = %d, want 2", len(cands))
	}
	if cands[0].ID != "a:cheap" {
		t.Errorf("first candidate = %s, want a:cheap", cands[0].ID)
	}
}

func TestCatalogMarkChecked(t *testing.T) {
	c := NewCatalog()
	rec := ModelRecord{ID: "o:m", Provider: "o", Name: "m", ContextLength: 10, SuccessRate: 1, Available: true}
	if err := c.Put(rec); err != nil {
		t.Fatal(err)
	}
	at := time.Now().Add(time.Hour)
	c.MarkChecked("o:m", false, at)
	got, _ := c.Get("o:m")
	if got.Available {
		t.Error("record still available after MarkChecked(false)")
	}
	if !got.LastChecked.Equal(at) {
		t.Errorf("last checked = %v", got.LastChecked)
	}
}
