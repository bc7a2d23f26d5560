package playbook

import (
	"strings"

	"github.com/google/uuid"
	"github.com/miethe/boxbrain/internal/models"
)

// SetStatus moves a stage instance to the given status. Transitions are
// deliberately unrestricted: any status may move to any other on
// explicit user action, including completed back to not_started. Only
// the status value itself is validated.
func SetStatus(instance *models.OpportunityStageInstance, status models.StageStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	instance.Status = status
	return nil
}

// SetChecklistStatus records the state of a template-defined checklist
// item, keyed by the item's text. Setting the same value twice is
// observably a no-op.
func SetChecklistStatus(instance *models.OpportunityStageInstance, itemText string, status models.ChecklistStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if instance.ChecklistItemStatuses == nil {
		instance.ChecklistItemStatuses = make(map[string]models.ChecklistStatus)
	}
	instance.ChecklistItemStatuses[itemText] = status
	return nil
}

// AddCustomTask appends a user-added task. Empty or whitespace-only
// text is a no-op, not an error; the returned id is empty in that case.
func AddCustomTask(instance *models.OpportunityStageInstance, text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	item := models.CustomChecklistItem{
		ID:     uuid.New().String(),
		Text:   text,
		Status: models.ChecklistTodo,
	}
	instance.CustomChecklistItems = append(instance.CustomChecklistItems, item)
	return item.ID
}

// ToggleCustomTask flips a custom task between todo and done. Unknown
// ids are a no-op.
func ToggleCustomTask(instance *models.OpportunityStageInstance, id string) {
	for i := range instance.CustomChecklistItems {
		if instance.CustomChecklistItems[i].ID != id {
			continue
		}
		if instance.CustomChecklistItems[i].Status == models.ChecklistDone {
			instance.CustomChecklistItems[i].Status = models.ChecklistTodo
		} else {
			instance.CustomChecklistItems[i].Status = models.ChecklistDone
		}
		return
	}
}

// RemoveCustomTask deletes a custom task by id. Unknown ids are a no-op.
func RemoveCustomTask(instance *models.OpportunityStageInstance, id string) {
	for i := range instance.CustomChecklistItems {
		if instance.CustomChecklistItems[i].ID == id {
			instance.CustomChecklistItems = append(
				instance.CustomChecklistItems[:i],
				instance.CustomChecklistItems[i+1:]...,
			)
			return
		}
	}
}
