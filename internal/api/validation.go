package api

import (
	"fmt"

	"github.com/flowrule/flowrule/internal/domain"
)

func validateTrigger(req TriggerRequest) error {
	if req.ScopeID == "" {
		return fmt.Errorf("scope_id is required")
	}

	if req.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	kind := domain.NormalizeTriggerKind(domain.TriggerKind(req.Kind))
	if kind != domain.TriggerStageEntered && kind != domain.TriggerCustom {
		return fmt.Errorf("unknown kind %q", req.Kind)
	}

	if req.PipelineID == "" {
		return fmt.Errorf("pipeline_id is required")
	}

	if req.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}

	return nil
}
