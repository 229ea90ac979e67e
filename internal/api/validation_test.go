package api

import (
	"strings"
	"testing"
)

func TestValidateTriggerAcceptsCustomKind(t *testing.T) {
	req := TriggerRequest{
		ScopeID:    "3f1d9a4e-0000-0000-0000-000000000001",
		Kind:       "custom",
		PipelineID: "p1",
		EntityID:   "c1",
	}
	if err := validateTrigger(req); err != nil {
		t.Errorf("validateTrigger() = %v, want nil", err)
	}
}

func TestValidateTriggerAcceptsLegacyKind(t *testing.T) {
	req := TriggerRequest{
		ScopeID:    "3f1d9a4e-0000-0000-0000-000000000001",
		Kind:       "enter-stage",
		PipelineID: "p1",
		EntityID:   "c1",
	}
	if err := validateTrigger(req); err != nil {
		t.Errorf("legacy kind spelling should validate, got %v", err)
	}
}

func TestValidateTriggerUnknownKindNamesIt(t *testing.T) {
	req := TriggerRequest{
		ScopeID:    "3f1d9a4e-0000-0000-0000-000000000001",
		Kind:       "deal-won",
		PipelineID: "p1",
		EntityID:   "c1",
	}
	err := validateTrigger(req)
	if err == nil {
		t.Fatal("validateTrigger() should reject an unknown kind")
	}
	if !strings.Contains(err.Error(), "deal-won") {
		t.Errorf("error should quote the offending kind, got %v", err)
	}
}
