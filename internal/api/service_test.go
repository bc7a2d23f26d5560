package api

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/miethe/boxbrain/internal/activity"
	"github.com/miethe/boxbrain/internal/models"
	"github.com/miethe/boxbrain/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st, activity.NewRecorder(st)), st
}

func seedTemplate(t *testing.T, svc *Service) *models.PlayTemplate {
	t.Helper()
	p, err := svc.CreatePlay(&models.PlayTemplate{
		Title:        "Cloud Migration Accelerator",
		Summary:      "Structured path to a signed migration SOW",
		Offering:     "Cloud Migration",
		Technologies: []string{"Azure", "Terraform"},
		StageScope:   []string{"Discovery", "Solutioning"},
		Stages: []models.StageDefinition{
			{Key: "Discovery", Label: "Discovery", Objective: "Qualify the deal", ChecklistItems: []string{"Identify stakeholders", "Confirm budget"}},
			{Key: "Solutioning", Label: "Solutioning", Objective: "Shape the solution", ChecklistItems: []string{"Draft architecture"}},
		},
		Sector:             "Retail",
		Geo:                "Americas",
		Tags:               []string{"migration"},
		DefaultTeamMembers: []string{"u-alice"},
	})
	if err != nil {
		t.Fatalf("CreatePlay failed: %v", err)
	}
	return p
}

func seedOpportunity(t *testing.T, svc *Service, playIDs ...string) *models.Opportunity {
	t.Helper()
	opp, err := svc.CreateOpportunity(CreateOpportunityInput{
		Name:     "Acme Replatform",
		Sector:   "Retail",
		Offering: "Cloud Migration",
		Stage:    "Discovery",
		Geo:      "Americas",
		Plays:    playIDs,
	})
	if err != nil {
		t.Fatalf("CreateOpportunity failed: %v", err)
	}
	return opp
}

func TestCreatePlayValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreatePlay(&models.PlayTemplate{Offering: "Cloud Migration"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for missing title, got %v", err)
	}

	_, err = svc.CreatePlay(&models.PlayTemplate{
		Title:      "Dup",
		StageScope: []string{"Discovery", "Discovery"},
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for duplicate stage key, got %v", err)
	}
}

func TestCreateOpportunityInstantiatesPlays(t *testing.T) {
	svc, _ := newTestService(t)
	tmpl := seedTemplate(t, svc)

	opp := seedOpportunity(t, svc, tmpl.ID)

	if len(opp.OpportunityPlays) != 1 {
		t.Fatalf("Expected 1 attached play, got %d", len(opp.OpportunityPlays))
	}
	attached := opp.OpportunityPlays[0]
	if !attached.IsPrimary {
		t.Error("First selected play should be primary")
	}
	if len(attached.StageInstances) != 2 {
		t.Errorf("Expected 2 stage instances, got %d", len(attached.StageInstances))
	}
	for _, si := range attached.StageInstances {
		if si.Status != models.StageNotStarted {
			t.Errorf("Stage %s should start not_started, got %s", si.PlayStageKey, si.Status)
		}
		if si.Version != 1 {
			t.Errorf("Stage %s should start at version 1, got %d", si.PlayStageKey, si.Version)
		}
	}
	// Template default members join the team.
	if len(opp.TeamMemberUserIDs) != 1 || opp.TeamMemberUserIDs[0] != "u-alice" {
		t.Errorf("Expected team [u-alice], got %v", opp.TeamMemberUserIDs)
	}
}

func TestCreateOpportunityUnknownPlay(t *testing.T) {
	svc, st := newTestService(t)

	_, err := svc.CreateOpportunity(CreateOpportunityInput{
		Offering: "Cloud Migration",
		Stage:    "Discovery",
		Plays:    []string{"missing"},
	})
	if !errors.Is(err, ErrPlayNotFound) {
		t.Fatalf("Expected ErrPlayNotFound, got %v", err)
	}

	// Validation happens before any write.
	opps, err := st.ListOpportunities()
	if err != nil {
		t.Fatalf("ListOpportunities failed: %v", err)
	}
	if len(opps) != 0 {
		t.Errorf("Expected no partial opportunity, got %d", len(opps))
	}
}

func TestAttachPlayRejectsDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	tmpl := seedTemplate(t, svc)
	opp := seedOpportunity(t, svc, tmpl.ID)

	_, err := svc.AttachPlay(opp.ID, AttachPlayInput{PlayID: tmpl.ID})
	if !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("Expected ErrAlreadyAttached, got %v", err)
	}
}

func TestAttachPlayDemotesExistingPrimary(t *testing.T) {
	svc, _ := newTestService(t)
	first := seedTemplate(t, svc)
	second, err := svc.CreatePlay(&models.PlayTemplate{
		Title:      "Data Platform Play",
		Offering:   "Data & AI",
		StageScope: []string{"Discovery"},
	})
	if err != nil {
		t.Fatalf("CreatePlay failed: %v", err)
	}

	opp := seedOpportunity(t, svc, first.ID)
	opp, err = svc.AttachPlay(opp.ID, AttachPlayInput{PlayID: second.ID, IsPrimary: true})
	if err != nil {
		t.Fatalf("AttachPlay failed: %v", err)
	}

	primaries := 0
	for _, ap := range opp.OpportunityPlays {
		if ap.IsPrimary {
			primaries++
			if ap.PlayID != second.ID {
				t.Errorf("Expected new attachment to be primary, got %s", ap.PlayID)
			}
		}
	}
	if primaries != 1 {
		t.Errorf("Expected exactly 1 primary attachment, got %d", primaries)
	}
}

func TestDetachPlay(t *testing.T) {
	svc, st := newTestService(t)
	tmpl := seedTemplate(t, svc)
	opp := seedOpportunity(t, svc, tmpl.ID)

	opp, err := svc.DetachPlay(opp.ID, tmpl.ID, "")
	if err != nil {
		t.Fatalf("DetachPlay failed: %v", err)
	}
	if len(opp.OpportunityPlays) != 0 {
		t.Errorf("Expected no attached plays after detach, got %d", len(opp.OpportunityPlays))
	}

	// The template itself survives.
	got, err := st.GetPlay(tmpl.ID)
	if err != nil || got == nil {
		t.Errorf("Template should survive detach: %v %v", got, err)
	}

	if _, err := svc.DetachPlay(opp.ID, tmpl.ID, ""); !errors.Is(err, ErrPlayNotFound) {
		t.Errorf("Detaching an unattached play should fail with ErrPlayNotFound, got %v", err)
	}
}

func TestResyncPlayAddsNewStages(t *testing.T) {
	svc, st := newTestService(t)
	tmpl := seedTemplate(t, svc)
	opp := seedOpportunity(t, svc, tmpl.ID)

	// Template grows a stage after attachment. Nothing happens until
	// the explicit re-sync.
	tmpl.StageScope = append(tmpl.StageScope, "Proposal")
	tmpl.Stages = append(tmpl.Stages, models.StageDefinition{Key: "Proposal", Label: "Proposal"})
	if err := st.UpsertPlay(tmpl); err != nil {
		t.Fatalf("UpsertPlay failed: %v", err)
	}

	got, err := svc.GetOpportunity(opp.ID)
	if err != nil {
		t.Fatalf("GetOpportunity failed: %v", err)
	}
	if len(got.OpportunityPlays[0].StageInstances) != 2 {
		t.Fatal("Template edit must not touch attachments")
	}

	got, err = svc.ResyncPlay(opp.ID, tmpl.ID, "")
	if err != nil {
		t.Fatalf("ResyncPlay failed: %v", err)
	}
	if len(got.OpportunityPlays[0].StageInstances) != 3 {
		t.Errorf("Expected 3 stage instances after resync, got %d", len(got.OpportunityPlays[0].StageInstances))
	}
}

func TestPatchStage(t *testing.T) {
	svc, _ := newTestService(t)
	tmpl := seedTemplate(t, svc)
	opp := seedOpportunity(t, svc, tmpl.ID)

	status := models.StageInProgress
	checklist := map[string]models.ChecklistStatus{"Identify stakeholders": models.ChecklistDone}
	si, err := svc.PatchStage(opp.ID, tmpl.ID, "Discovery", StagePatch{
		Status:                &status,
		ChecklistItemStatuses: &checklist,
		BaseVersion:           1,
	})
	if err != nil {
		t.Fatalf("PatchStage failed: %v", err)
	}
	if si.Status != models.StageInProgress {
		t.Errorf("Expected in_progress, got %s", si.Status)
	}
	if si.ChecklistItemStatuses["Identify stakeholders"] != models.ChecklistDone {
		t.Error("Checklist status not applied")
	}
	if si.Version != 2 {
		t.Errorf("Expected version bump to 2, got %d", si.Version)
	}
}

func TestPatchStageConflict(t *testing.T) {
	svc, _ := newTestService(t)
	tmpl := seedTemplate(t, svc)
	opp := seedOpportunity(t, svc, tmpl.ID)

	status := models.StageCompleted
	if _, err := svc.PatchStage(opp.ID, tmpl.ID, "Discovery", StagePatch{Status: &status, BaseVersion: 1}); err != nil {
		t.Fatalf("First patch failed: %v", err)
	}

	// Second writer still holds version 1.
	stale := models.StageSkipped
	_, err := svc.PatchStage(opp.ID, tmpl.ID, "Discovery", StagePatch{Status: &stale, BaseVersion: 1})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for stale base version, got %v", err)
	}

	// BaseVersion -1 opts out of the check.
	if _, err := svc.PatchStage(opp.ID, tmpl.ID, "Discovery", StagePatch{Status: &stale, BaseVersion: -1}); err != nil {
		t.Errorf("Opt-out patch should succeed, got %v", err)
	}
}

func TestPatchStageValidation(t *testing.T) {
	svc, _ := newTestService(t)
	tmpl := seedTemplate(t, svc)
	opp := seedOpportunity(t, svc, tmpl.ID)

	bad := models.StageStatus("paused")
	if _, err := svc.PatchStage(opp.ID, tmpl.ID, "Discovery", StagePatch{Status: &bad, BaseVersion: -1}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for bad status, got %v", err)
	}

	if _, err := svc.PatchStage(opp.ID, tmpl.ID, "Closing", StagePatch{BaseVersion: -1}); !errors.Is(err, ErrStageNotFound) {
		t.Errorf("Expected ErrStageNotFound for unknown stage key, got %v", err)
	}
}

func TestTeamMembership(t *testing.T) {
	svc, _ := newTestService(t)
	tmpl := seedTemplate(t, svc)
	opp := seedOpportunity(t, svc, tmpl.ID)

	opp, err := svc.AddTeamMember(opp.ID, "u-bob", "")
	if err != nil {
		t.Fatalf("AddTeamMember failed: %v", err)
	}
	if len(opp.TeamMemberUserIDs) != 2 {
		t.Fatalf("Expected 2 members, got %v", opp.TeamMemberUserIDs)
	}

	// Re-adding is a no-op.
	opp, err = svc.AddTeamMember(opp.ID, "u-bob", "")
	if err != nil {
		t.Fatalf("AddTeamMember failed: %v", err)
	}
	if len(opp.TeamMemberUserIDs) != 2 {
		t.Errorf("Re-adding a member should not grow the team: %v", opp.TeamMemberUserIDs)
	}

	opp, err = svc.RemoveTeamMember(opp.ID, "u-bob", "")
	if err != nil {
		t.Fatalf("RemoveTeamMember failed: %v", err)
	}
	if len(opp.TeamMemberUserIDs) != 1 {
		t.Errorf("Expected 1 member after removal, got %v", opp.TeamMemberUserIDs)
	}
}

func TestStageNoteLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	tmpl := seedTemplate(t, svc)
	opp := seedOpportunity(t, svc, tmpl.ID)
	siID := opp.OpportunityPlays[0].StageInstances[0].ID

	if _, err := svc.CreateStageNote("missing", "hello", false, "u-alice"); !errors.Is(err, ErrStageNotFound) {
		t.Errorf("Expected ErrStageNotFound for unknown instance, got %v", err)
	}
	if _, err := svc.CreateStageNote(siID, "", false, "u-alice"); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for empty content, got %v", err)
	}

	note, err := svc.CreateStageNote(siID, "Champion identified", false, "u-alice")
	if err != nil {
		t.Fatalf("CreateStageNote failed: %v", err)
	}

	updated, err := svc.UpdateStageNote(note.ID, "Champion confirmed", true)
	if err != nil {
		t.Fatalf("UpdateStageNote failed: %v", err)
	}
	if updated.Content != "Champion confirmed" || !updated.IsPrivate {
		t.Errorf("Note update not applied: %+v", updated)
	}

	if err := svc.DeleteStageNote(note.ID); err != nil {
		t.Fatalf("DeleteStageNote failed: %v", err)
	}
	if err := svc.DeleteStageNote(note.ID); !errors.Is(err, ErrNoteNotFound) {
		t.Errorf("Deleting a deleted note should fail with ErrNoteNotFound, got %v", err)
	}
}

func TestUpdateOpportunityPartial(t *testing.T) {
	svc, _ := newTestService(t)
	tmpl := seedTemplate(t, svc)
	opp := seedOpportunity(t, svc, tmpl.ID)

	health := models.HealthYellow
	got, err := svc.UpdateOpportunity(opp.ID, UpdateOpportunityInput{Health: &health})
	if err != nil {
		t.Fatalf("UpdateOpportunity failed: %v", err)
	}
	if got.Health != models.HealthYellow {
		t.Errorf("Expected yellow health, got %s", got.Health)
	}
	if got.Name != opp.Name {
		t.Errorf("Untouched field changed: %s != %s", got.Name, opp.Name)
	}

	bad := models.Health("purple")
	if _, err := svc.UpdateOpportunity(opp.ID, UpdateOpportunityInput{Health: &bad}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for bad health, got %v", err)
	}
}

func TestMatchPlaysShapesQuery(t *testing.T) {
	svc, st := newTestService(t)
	tmpl := seedTemplate(t, svc)

	if err := st.UpsertDictionaryTerm("technology", "Azure", "", "Cloud Migration"); err != nil {
		t.Fatalf("UpsertDictionaryTerm failed: %v", err)
	}
	if err := st.UpsertDictionaryTerm("technology", "Terraform", "", "Cloud Migration"); err != nil {
		t.Fatalf("UpsertDictionaryTerm failed: %v", err)
	}

	// Query without technologies: the dictionary association fills
	// them in, so the technology component still scores.
	ranked, err := svc.MatchPlays(models.OpportunityQuery{
		Sector:   "Retail",
		Offering: "Cloud Migration",
		Stage:    "Discovery",
		Geo:      "Americas",
	})
	if err != nil {
		t.Fatalf("MatchPlays failed: %v", err)
	}
	if len(ranked) != 1 {
		t.Fatalf("Expected 1 ranked play, got %d", len(ranked))
	}
	if ranked[0].Play.ID != tmpl.ID {
		t.Errorf("Wrong play ranked first: %s", ranked[0].Play.ID)
	}
	// offering 35 + tech 25 + stage 15 + sector 10 + geo 5 = 90
	if ranked[0].Score != 90 {
		t.Errorf("Expected score 90, got %d", ranked[0].Score)
	}
	if !ranked[0].Recommended {
		t.Error("Score above 80 should be recommended")
	}
}

func TestActivityTrail(t *testing.T) {
	svc, _ := newTestService(t)
	tmpl := seedTemplate(t, svc)
	opp := seedOpportunity(t, svc, tmpl.ID)

	if _, err := svc.AddTeamMember(opp.ID, "u-bob", "u-alice"); err != nil {
		t.Fatalf("AddTeamMember failed: %v", err)
	}

	entries, err := svc.GetActivity(opp.ID)
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if len(entries) < 3 {
		t.Fatalf("Expected create, attach, and team entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].Action != "team.add" {
		t.Errorf("Expected team.add newest, got %s", entries[0].Action)
	}

	if _, err := svc.GetActivity("missing"); !errors.Is(err, ErrOpportunityNotFound) {
		t.Errorf("Expected ErrOpportunityNotFound, got %v", err)
	}
}

func TestDeleteOpportunity(t *testing.T) {
	svc, _ := newTestService(t)
	tmpl := seedTemplate(t, svc)
	opp := seedOpportunity(t, svc, tmpl.ID)

	if err := svc.DeleteOpportunity(opp.ID, ""); err != nil {
		t.Fatalf("DeleteOpportunity failed: %v", err)
	}
	if _, err := svc.GetOpportunity(opp.ID); !errors.Is(err, ErrOpportunityNotFound) {
		t.Errorf("Expected ErrOpportunityNotFound after delete, got %v", err)
	}

	// Catalog is untouched.
	if _, err := svc.GetPlay(tmpl.ID); err != nil {
		t.Errorf("Template should survive opportunity delete: %v", err)
	}
}
