package playbook

import (
	"testing"

	"github.com/miethe/boxbrain/internal/models"
)

func testTemplate() *models.PlayTemplate {
	return &models.PlayTemplate{
		ID:         "tmpl-1",
		Title:      "Cloud Migration Accelerator",
		StageScope: []string{"Discovery", "Solutioning", "Proposal"},
		Stages: []models.StageDefinition{
			{Key: "Discovery", Label: "Discovery", ChecklistItems: []string{"Identify stakeholders"}},
			{Key: "Solutioning", Label: "Solutioning", ChecklistItems: []string{"Draft architecture"}},
			{Key: "Proposal", Label: "Proposal", ChecklistItems: []string{"Review pricing"}},
		},
	}
}

func TestInstantiateCompleteness(t *testing.T) {
	tmpl := testTemplate()
	play, err := Instantiate(tmpl, InstantiateOptions{
		OpportunityID:         "opp-1",
		IsPrimary:             true,
		IsActive:              true,
		SelectedTechnologyIDs: []string{"Azure"},
	})
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}

	if len(play.StageInstances) != len(tmpl.StageScope) {
		t.Fatalf("Expected %d stage instances, got %d", len(tmpl.StageScope), len(play.StageInstances))
	}

	seen := map[string]bool{}
	for _, si := range play.StageInstances {
		if !tmpl.HasStageKey(si.PlayStageKey) {
			t.Errorf("Stage instance key %q not in template scope", si.PlayStageKey)
		}
		if seen[si.PlayStageKey] {
			t.Errorf("Duplicate stage instance for key %q", si.PlayStageKey)
		}
		seen[si.PlayStageKey] = true

		if si.Status != models.StageNotStarted {
			t.Errorf("Expected not_started, got %s", si.Status)
		}
		if len(si.ChecklistItemStatuses) != 0 {
			t.Errorf("Expected empty checklist statuses, got %v", si.ChecklistItemStatuses)
		}
		if len(si.CustomChecklistItems) != 0 {
			t.Errorf("Expected no custom items, got %v", si.CustomChecklistItems)
		}
		if si.OpportunityPlayID != play.ID {
			t.Errorf("Stage instance not linked to play instance")
		}
	}

	if play.PlayID != tmpl.ID {
		t.Errorf("Expected weak template reference %s, got %s", tmpl.ID, play.PlayID)
	}
	if !play.IsPrimary || !play.IsActive {
		t.Error("Caller intent for is_primary/is_active not honored")
	}
}

func TestInstantiateEmptyScopeRejected(t *testing.T) {
	tmpl := testTemplate()
	tmpl.StageScope = nil
	if _, err := Instantiate(tmpl, InstantiateOptions{OpportunityID: "opp-1"}); err != ErrEmptyStageScope {
		t.Fatalf("Expected ErrEmptyStageScope, got %v", err)
	}
}

func TestInstantiateNoDedup(t *testing.T) {
	tmpl := testTemplate()
	first, _ := Instantiate(tmpl, InstantiateOptions{OpportunityID: "opp-1"})
	second, _ := Instantiate(tmpl, InstantiateOptions{OpportunityID: "opp-1"})
	if first.ID == second.ID {
		t.Error("Expected independent instances with distinct ids")
	}
}

func TestHasInstance(t *testing.T) {
	tmpl := testTemplate()
	play, _ := Instantiate(tmpl, InstantiateOptions{OpportunityID: "opp-1"})
	opp := &models.Opportunity{ID: "opp-1", OpportunityPlays: []models.OpportunityPlay{*play}}

	if !HasInstance(opp, tmpl.ID) {
		t.Error("Expected HasInstance true for attached play")
	}
	if HasInstance(opp, "tmpl-other") {
		t.Error("Expected HasInstance false for unattached play")
	}
}

func TestResyncAddsOnlyNewKeys(t *testing.T) {
	tmpl := testTemplate()
	play, _ := Instantiate(tmpl, InstantiateOptions{OpportunityID: "opp-1"})

	// Mark some progress, then grow and shrink the scope.
	play.StageInstances[0].Status = models.StageCompleted
	tmpl.StageScope = []string{"Discovery", "Proposal", "Negotiation"}

	added := Resync(play, tmpl)
	if len(added) != 1 || added[0] != "Negotiation" {
		t.Fatalf("Expected only Negotiation to be added, got %v", added)
	}
	if len(play.StageInstances) != 4 {
		t.Fatalf("Expected 4 stage instances after resync, got %d", len(play.StageInstances))
	}

	// The instance whose key left the scope is kept, progress intact.
	var solutioning, discovery *models.OpportunityStageInstance
	for i := range play.StageInstances {
		switch play.StageInstances[i].PlayStageKey {
		case "Solutioning":
			solutioning = &play.StageInstances[i]
		case "Discovery":
			discovery = &play.StageInstances[i]
		}
	}
	if solutioning == nil {
		t.Fatal("Expected out-of-scope Solutioning instance to be kept")
	}
	if discovery == nil || discovery.Status != models.StageCompleted {
		t.Error("Expected existing progress to survive resync")
	}

	// Resync is idempotent once scopes agree.
	if again := Resync(play, tmpl); len(again) != 0 {
		t.Errorf("Expected second resync to add nothing, got %v", again)
	}
}
