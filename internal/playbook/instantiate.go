// Package playbook implements instantiation and execution tracking of
// play templates attached to opportunities.
package playbook

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/miethe/boxbrain/internal/models"
)

// Sentinel errors for playbook operations.
var (
	ErrEmptyStageScope = errors.New("play template has no stage scope")
	ErrUnknownStageKey = errors.New("stage key not in template stage scope")
	ErrInvalidStatus   = errors.New("invalid stage status")
)

// InstantiateOptions carries caller intent for a new attachment.
type InstantiateOptions struct {
	OpportunityID         string
	IsPrimary             bool
	IsActive              bool
	SelectedTechnologyIDs []string
}

// Instantiate creates a new OpportunityPlay from a template with one
// not_started stage instance per key in the template's stage scope.
// The selected technology ids are taken as given; validating them
// against the template is the caller's responsibility. Two calls for
// the same template produce two independent attachments — callers guard
// duplicates with HasInstance.
func Instantiate(template *models.PlayTemplate, opts InstantiateOptions) (*models.OpportunityPlay, error) {
	if len(template.StageScope) == 0 {
		return nil, ErrEmptyStageScope
	}

	now := time.Now().UTC()
	play := &models.OpportunityPlay{
		ID:                    uuid.New().String(),
		OpportunityID:         opts.OpportunityID,
		PlayID:                template.ID,
		IsPrimary:             opts.IsPrimary,
		IsActive:              opts.IsActive,
		SelectedTechnologyIDs: append([]string(nil), opts.SelectedTechnologyIDs...),
		CreatedAt:             now,
	}

	for _, key := range template.StageScope {
		play.StageInstances = append(play.StageInstances, newStageInstance(play.ID, key, now))
	}
	return play, nil
}

// HasInstance reports whether the opportunity already has an attachment
// of the given play template. This is the attach guard: adding the same
// play id twice must be rejected by the caller.
func HasInstance(opp *models.Opportunity, playID string) bool {
	for _, op := range opp.OpportunityPlays {
		if op.PlayID == playID {
			return true
		}
	}
	return false
}

// Resync reconciles an existing attachment with the template's current
// stage scope. Scope changes never propagate automatically; this is the
// deliberate re-sync a caller triggers. New keys gain a not_started
// instance; instances whose key left the scope are kept untouched so
// execution history is never silently discarded.
func Resync(play *models.OpportunityPlay, template *models.PlayTemplate) (added []string) {
	have := make(map[string]struct{}, len(play.StageInstances))
	for _, si := range play.StageInstances {
		have[si.PlayStageKey] = struct{}{}
	}
	now := time.Now().UTC()
	for _, key := range template.StageScope {
		if _, ok := have[key]; ok {
			continue
		}
		play.StageInstances = append(play.StageInstances, newStageInstance(play.ID, key, now))
		added = append(added, key)
	}
	return added
}

func newStageInstance(playInstanceID, stageKey string, now time.Time) models.OpportunityStageInstance {
	return models.OpportunityStageInstance{
		ID:                    uuid.New().String(),
		OpportunityPlayID:     playInstanceID,
		PlayStageKey:          stageKey,
		Status:                models.StageNotStarted,
		ChecklistItemStatuses: make(map[string]models.ChecklistStatus),
		CustomChecklistItems:  []models.CustomChecklistItem{},
		Version:               1,
		UpdatedAt:             now,
	}
}
