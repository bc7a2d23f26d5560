// Package activity records the mutation history of opportunity
// aggregates.
package activity

import (
	"log"

	"github.com/miethe/boxbrain/internal/models"
	"github.com/miethe/boxbrain/internal/store"
)

// Recorder appends activity entries for state-mutating actions.
type Recorder struct {
	store *store.Store
}

// NewRecorder creates a new activity recorder.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s}
}

// Record writes one activity entry. Activity is advisory: a failed
// write is logged, never surfaced, so it cannot fail the mutation it
// describes.
func (r *Recorder) Record(action, opportunityID, entityID, actorID, detail string) {
	err := r.store.AppendActivity(&models.ActivityEntry{
		Action:        action,
		OpportunityID: opportunityID,
		EntityID:      entityID,
		ActorID:       actorID,
		Detail:        detail,
	})
	if err != nil {
		log.Printf("activity: failed to record %s: %v", action, err)
	}
}

// ForOpportunity returns the recorded history for one opportunity,
// newest first.
func (r *Recorder) ForOpportunity(opportunityID string) ([]models.ActivityEntry, error) {
	return r.store.ListActivity(opportunityID)
}
