// Package api provides the HTTP API and service layer for Boxbrain.
package api

import (
	"fmt"
	"time"

	"github.com/miethe/boxbrain/internal/activity"
	"github.com/miethe/boxbrain/internal/match"
	"github.com/miethe/boxbrain/internal/models"
	"github.com/miethe/boxbrain/internal/playbook"
	"github.com/miethe/boxbrain/internal/store"
)

// Service provides the playbook business logic.
type Service struct {
	store    *store.Store
	activity *activity.Recorder
}

// NewService creates a new service.
func NewService(s *store.Store, rec *activity.Recorder) *Service {
	return &Service{store: s, activity: rec}
}

// --- Play Catalog ---

// CreatePlay adds a template to the catalog.
func (s *Service) CreatePlay(p *models.PlayTemplate) (*models.PlayTemplate, error) {
	if p.Title == "" {
		return nil, fmt.Errorf("%w: play title is required", ErrValidation)
	}
	seen := make(map[string]struct{}, len(p.StageScope))
	for _, key := range p.StageScope {
		if key == "" {
			return nil, fmt.Errorf("%w: empty stage key in stage scope", ErrValidation)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate stage key %q", ErrValidation, key)
		}
		seen[key] = struct{}{}
	}
	for _, stage := range p.Stages {
		if _, ok := seen[stage.Key]; !ok {
			return nil, fmt.Errorf("%w: stage definition %q not in stage scope", ErrValidation, stage.Key)
		}
	}
	if err := s.store.CreatePlay(p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPlay retrieves a template by id.
func (s *Service) GetPlay(id string) (*models.PlayTemplate, error) {
	p, err := s.store.GetPlay(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPlayNotFound
	}
	return p, nil
}

// ListPlays returns the full catalog.
func (s *Service) ListPlays() ([]models.PlayTemplate, error) {
	return s.store.ListPlays()
}

// GetDictionary returns the dictionary snapshot.
func (s *Service) GetDictionary() (*models.Dictionary, error) {
	return s.store.GetDictionary()
}

// --- Matching ---

// MatchPlays ranks the catalog against a described opportunity. A query
// without technologies is shaped from the dictionary's offering
// associations before scoring.
func (s *Service) MatchPlays(query models.OpportunityQuery) ([]match.RankedPlay, error) {
	dict, err := s.store.GetDictionary()
	if err != nil {
		return nil, err
	}
	query = match.NewTechnologyLookup(*dict).ShapeQuery(query)

	plays, err := s.store.ListPlays()
	if err != nil {
		return nil, err
	}
	return match.Score(query, plays), nil
}

// --- Opportunities ---

// CreateOpportunityInput is the wizard-shaped input: deal description
// plus the template ids selected for attachment.
type CreateOpportunityInput struct {
	Name              string   `json:"name"`
	AccountName       string   `json:"account_name"`
	Sector            string   `json:"sector"`
	Offering          string   `json:"offering"`
	Stage             string   `json:"stage"`
	Technologies      []string `json:"technologies"`
	Geo               string   `json:"geo"`
	Tags              []string `json:"tags"`
	Notes             string   `json:"notes"`
	Plays             []string `json:"plays"`
	TeamMemberUserIDs []string `json:"team_member_user_ids"`
	ActorID           string   `json:"actor_id,omitempty"`
}

// CreateOpportunity creates a deal and instantiates each selected play.
// The first selected play becomes primary. Validation happens before
// any write.
func (s *Service) CreateOpportunity(input CreateOpportunityInput) (*models.Opportunity, error) {
	if input.Offering == "" {
		return nil, fmt.Errorf("%w: offering is required", ErrValidation)
	}
	if input.Stage == "" {
		return nil, fmt.Errorf("%w: stage is required", ErrValidation)
	}

	// Resolve and validate all templates up front: no partial writes.
	templates := make([]*models.PlayTemplate, 0, len(input.Plays))
	for _, playID := range input.Plays {
		tmpl, err := s.store.GetPlay(playID)
		if err != nil {
			return nil, err
		}
		if tmpl == nil {
			return nil, fmt.Errorf("%w: %s", ErrPlayNotFound, playID)
		}
		if len(tmpl.StageScope) == 0 {
			return nil, fmt.Errorf("%w: play %s has no stage scope", ErrValidation, playID)
		}
		templates = append(templates, tmpl)
	}

	name := input.Name
	if name == "" {
		name = "New Opportunity - " + input.Offering
	}
	accountName := input.AccountName
	if accountName == "" {
		accountName = "New Account"
	}

	opp := &models.Opportunity{
		Name:              name,
		AccountName:       accountName,
		SalesStage:        input.Stage,
		CurrentStageKey:   input.Stage,
		Region:            input.Geo,
		Sector:            input.Sector,
		ProblemStatement:  input.Notes,
		Tags:              input.Tags,
		TeamMemberUserIDs: input.TeamMemberUserIDs,
	}
	if err := s.store.CreateOpportunity(opp); err != nil {
		return nil, err
	}
	s.activity.Record("opportunity.create", opp.ID, opp.ID, input.ActorID, opp.Name)

	for i, tmpl := range templates {
		attached, err := playbook.Instantiate(tmpl, playbook.InstantiateOptions{
			OpportunityID:         opp.ID,
			IsPrimary:             i == 0,
			IsActive:              true,
			SelectedTechnologyIDs: input.Technologies,
		})
		if err != nil {
			return nil, err
		}
		if err := s.store.InsertOpportunityPlay(attached); err != nil {
			return nil, err
		}
		for _, member := range tmpl.DefaultTeamMembers {
			playbook.AddMember(opp, member)
		}
		s.activity.Record("play.attach", opp.ID, attached.ID, input.ActorID, tmpl.Title)
	}
	if len(opp.TeamMemberUserIDs) > 0 {
		if err := s.store.ReplaceTeamMembers(opp.ID, opp.TeamMemberUserIDs); err != nil {
			return nil, err
		}
	}

	return s.mustGet(opp.ID)
}

// GetOpportunity retrieves a fully populated opportunity.
func (s *Service) GetOpportunity(id string) (*models.Opportunity, error) {
	opp, err := s.store.GetOpportunity(id)
	if err != nil {
		return nil, err
	}
	if opp == nil {
		return nil, ErrOpportunityNotFound
	}
	return opp, nil
}

// ListOpportunities returns all opportunities.
func (s *Service) ListOpportunities() ([]models.Opportunity, error) {
	return s.store.ListOpportunities()
}

// UpdateOpportunityInput carries a partial update; nil fields are left
// unchanged. Slice fields are replaced wholesale.
type UpdateOpportunityInput struct {
	Name             *string                   `json:"name,omitempty"`
	AccountName      *string                   `json:"account_name,omitempty"`
	SalesStage       *string                   `json:"sales_stage,omitempty"`
	Region           *string                   `json:"region,omitempty"`
	Sector           *string                   `json:"sector,omitempty"`
	ProblemStatement *string                   `json:"problem_statement,omitempty"`
	Tags             *[]string                 `json:"tags,omitempty"`
	CurrentStageKey  *string                   `json:"current_stage_key,omitempty"`
	Health           *models.Health            `json:"health,omitempty"`
	Status           *models.OpportunityStatus `json:"status,omitempty"`
	ActorID          string                    `json:"actor_id,omitempty"`
}

// UpdateOpportunity applies a partial update and returns the refreshed
// aggregate.
func (s *Service) UpdateOpportunity(id string, input UpdateOpportunityInput) (*models.Opportunity, error) {
	opp, err := s.GetOpportunity(id)
	if err != nil {
		return nil, err
	}

	if input.Health != nil && !input.Health.Valid() {
		return nil, fmt.Errorf("%w: invalid health %q", ErrValidation, *input.Health)
	}
	if input.Status != nil && !input.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, *input.Status)
	}

	if input.Name != nil {
		opp.Name = *input.Name
	}
	if input.AccountName != nil {
		opp.AccountName = *input.AccountName
	}
	if input.SalesStage != nil {
		opp.SalesStage = *input.SalesStage
	}
	if input.Region != nil {
		opp.Region = *input.Region
	}
	if input.Sector != nil {
		opp.Sector = *input.Sector
	}
	if input.ProblemStatement != nil {
		opp.ProblemStatement = *input.ProblemStatement
	}
	if input.Tags != nil {
		opp.Tags = *input.Tags
	}
	if input.CurrentStageKey != nil {
		opp.CurrentStageKey = *input.CurrentStageKey
	}
	if input.Health != nil {
		opp.Health = *input.Health
	}
	if input.Status != nil {
		opp.Status = *input.Status
	}

	if err := s.store.UpdateOpportunity(opp); err != nil {
		return nil, err
	}
	s.activity.Record("opportunity.update", opp.ID, opp.ID, input.ActorID, "")
	return s.mustGet(opp.ID)
}

// DeleteOpportunity removes a deal and everything it owns.
func (s *Service) DeleteOpportunity(id, actorID string) error {
	if _, err := s.GetOpportunity(id); err != nil {
		return err
	}
	if err := s.store.DeleteOpportunity(id); err != nil {
		return err
	}
	s.activity.Record("opportunity.delete", id, id, actorID, "")
	return nil
}

// --- Play Attachment ---

// AttachPlayInput carries caller intent for one attachment.
type AttachPlayInput struct {
	PlayID                string   `json:"play_id"`
	IsPrimary             bool     `json:"is_primary"`
	SelectedTechnologyIDs []string `json:"selected_technology_ids"`
	ActorID               string   `json:"actor_id,omitempty"`
}

// AttachPlay instantiates one template onto an opportunity. Attaching
// an already-attached play id is rejected; marking the new attachment
// primary demotes any existing primary. The play's default team members
// join the opportunity team.
func (s *Service) AttachPlay(opportunityID string, input AttachPlayInput) (*models.Opportunity, error) {
	opp, err := s.GetOpportunity(opportunityID)
	if err != nil {
		return nil, err
	}
	if playbook.HasInstance(opp, input.PlayID) {
		return nil, ErrAlreadyAttached
	}

	tmpl, err := s.store.GetPlay(input.PlayID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlayNotFound, input.PlayID)
	}

	attached, err := playbook.Instantiate(tmpl, playbook.InstantiateOptions{
		OpportunityID:         opp.ID,
		IsPrimary:             input.IsPrimary,
		IsActive:              true,
		SelectedTechnologyIDs: input.SelectedTechnologyIDs,
	})
	if err != nil {
		if err == playbook.ErrEmptyStageScope {
			return nil, fmt.Errorf("%w: play %s has no stage scope", ErrValidation, input.PlayID)
		}
		return nil, err
	}

	if input.IsPrimary {
		if err := s.store.ClearPrimary(opp.ID); err != nil {
			return nil, err
		}
	}
	if err := s.store.InsertOpportunityPlay(attached); err != nil {
		return nil, err
	}

	changed := false
	for _, member := range tmpl.DefaultTeamMembers {
		if playbook.AddMember(opp, member) {
			changed = true
		}
	}
	if changed {
		if err := s.store.ReplaceTeamMembers(opp.ID, opp.TeamMemberUserIDs); err != nil {
			return nil, err
		}
	}

	s.activity.Record("play.attach", opp.ID, attached.ID, input.ActorID, tmpl.Title)
	return s.mustGet(opp.ID)
}

// DetachPlay removes one attachment and its execution records.
func (s *Service) DetachPlay(opportunityID, playID, actorID string) (*models.Opportunity, error) {
	opp, err := s.GetOpportunity(opportunityID)
	if err != nil {
		return nil, err
	}

	var target *models.OpportunityPlay
	for i := range opp.OpportunityPlays {
		if opp.OpportunityPlays[i].PlayID == playID {
			target = &opp.OpportunityPlays[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlayNotFound, playID)
	}

	if err := s.store.DeleteOpportunityPlay(target.ID); err != nil {
		return nil, err
	}
	s.activity.Record("play.detach", opp.ID, target.ID, actorID, playID)
	return s.mustGet(opp.ID)
}

// ResyncPlay reconciles an attachment with its template's current stage
// scope. This never happens automatically; it is the explicit re-sync
// operation.
func (s *Service) ResyncPlay(opportunityID, playID, actorID string) (*models.Opportunity, error) {
	opp, err := s.GetOpportunity(opportunityID)
	if err != nil {
		return nil, err
	}
	var target *models.OpportunityPlay
	for i := range opp.OpportunityPlays {
		if opp.OpportunityPlays[i].PlayID == playID {
			target = &opp.OpportunityPlays[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlayNotFound, playID)
	}
	tmpl, err := s.store.GetPlay(playID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlayNotFound, playID)
	}

	before := len(target.StageInstances)
	added := playbook.Resync(target, tmpl)
	for _, si := range target.StageInstances[before:] {
		instance := si
		if err := s.store.InsertStageInstance(&instance); err != nil {
			return nil, err
		}
	}
	if len(added) > 0 {
		s.activity.Record("play.resync", opp.ID, target.ID, actorID, fmt.Sprintf("added %d stages", len(added)))
	}
	return s.mustGet(opp.ID)
}

// --- Stage Progress ---

// StagePatch carries a partial stage-instance update. Nil fields are
// left unchanged; the checklist map and custom task list are replaced
// wholesale, not merged — callers merge locally first. BaseVersion is
// the version the caller read; -1 opts out of the conflict check.
type StagePatch struct {
	Status                *models.StageStatus                 `json:"status,omitempty"`
	SummaryNote           *string                             `json:"summary_note,omitempty"`
	ChecklistItemStatuses *map[string]models.ChecklistStatus  `json:"checklist_item_statuses,omitempty"`
	CustomChecklistItems  *[]models.CustomChecklistItem       `json:"custom_checklist_items,omitempty"`
	StartDate             *time.Time                          `json:"start_date,omitempty"`
	TargetDate            *time.Time                          `json:"target_date,omitempty"`
	CompletedDate         *time.Time                          `json:"completed_date,omitempty"`
	BaseVersion           int64                               `json:"base_version"`
	ActorID               string                              `json:"actor_id,omitempty"`
}

// PatchStage applies a partial update to one stage instance, addressed
// by opportunity, play template id, and stage key. The write either
// fully applies or is fully rejected.
func (s *Service) PatchStage(opportunityID, playID, stageKey string, patch StagePatch) (*models.OpportunityStageInstance, error) {
	opp, err := s.GetOpportunity(opportunityID)
	if err != nil {
		return nil, err
	}

	var attachment *models.OpportunityPlay
	for i := range opp.OpportunityPlays {
		if opp.OpportunityPlays[i].PlayID == playID {
			attachment = &opp.OpportunityPlays[i]
			break
		}
	}
	if attachment == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlayNotFound, playID)
	}

	si, err := s.store.GetStageInstance(attachment.ID, stageKey)
	if err != nil {
		return nil, err
	}
	if si == nil {
		return nil, fmt.Errorf("%w: %s", ErrStageNotFound, stageKey)
	}

	// Validate everything before mutating anything.
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid stage status %q", ErrValidation, *patch.Status)
	}
	if patch.ChecklistItemStatuses != nil {
		for item, status := range *patch.ChecklistItemStatuses {
			if !status.Valid() {
				return nil, fmt.Errorf("%w: invalid checklist status %q for %q", ErrValidation, status, item)
			}
		}
	}
	if patch.CustomChecklistItems != nil {
		for _, task := range *patch.CustomChecklistItems {
			if task.Status != models.ChecklistTodo && task.Status != models.ChecklistDone {
				return nil, fmt.Errorf("%w: invalid custom task status %q", ErrValidation, task.Status)
			}
		}
	}

	if patch.Status != nil {
		si.Status = *patch.Status
	}
	if patch.SummaryNote != nil {
		si.SummaryNote = *patch.SummaryNote
	}
	if patch.ChecklistItemStatuses != nil {
		si.ChecklistItemStatuses = *patch.ChecklistItemStatuses
	}
	if patch.CustomChecklistItems != nil {
		si.CustomChecklistItems = *patch.CustomChecklistItems
	}
	if patch.StartDate != nil {
		si.StartDate = patch.StartDate
	}
	if patch.TargetDate != nil {
		si.TargetDate = patch.TargetDate
	}
	if patch.CompletedDate != nil {
		si.CompletedDate = patch.CompletedDate
	}

	if err := s.store.UpdateStageInstance(si, patch.BaseVersion); err != nil {
		if err == store.ErrStaleVersion {
			return nil, ErrConflict
		}
		return nil, err
	}

	s.activity.Record("stage.update", opp.ID, si.ID, patch.ActorID, stageKey)
	return si, nil
}

// --- Team ---

// AddTeamMember adds a user to the opportunity team and returns the
// refreshed aggregate. Adding a present member is a no-op.
func (s *Service) AddTeamMember(opportunityID, userID, actorID string) (*models.Opportunity, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	opp, err := s.GetOpportunity(opportunityID)
	if err != nil {
		return nil, err
	}
	if playbook.AddMember(opp, userID) {
		if err := s.store.ReplaceTeamMembers(opp.ID, opp.TeamMemberUserIDs); err != nil {
			return nil, err
		}
		s.activity.Record("team.add", opp.ID, userID, actorID, "")
	}
	return s.mustGet(opp.ID)
}

// RemoveTeamMember removes a user from the opportunity team. Removing
// an absent member is a no-op.
func (s *Service) RemoveTeamMember(opportunityID, userID, actorID string) (*models.Opportunity, error) {
	opp, err := s.GetOpportunity(opportunityID)
	if err != nil {
		return nil, err
	}
	if playbook.RemoveMember(opp, userID) {
		if err := s.store.ReplaceTeamMembers(opp.ID, opp.TeamMemberUserIDs); err != nil {
			return nil, err
		}
		s.activity.Record("team.remove", opp.ID, userID, actorID, "")
	}
	return s.mustGet(opp.ID)
}

// --- Stage Notes ---

// CreateStageNote attaches a note to a stage instance.
func (s *Service) CreateStageNote(stageInstanceID, content string, isPrivate bool, authorID string) (*models.StageNote, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: note content is required", ErrValidation)
	}
	si, err := s.store.GetStageInstanceByID(stageInstanceID)
	if err != nil {
		return nil, err
	}
	if si == nil {
		return nil, fmt.Errorf("%w: %s", ErrStageNotFound, stageInstanceID)
	}

	note := &models.StageNote{
		StageInstanceID: stageInstanceID,
		Content:         content,
		IsPrivate:       isPrivate,
		AuthorID:        authorID,
	}
	if err := s.store.CreateStageNote(note); err != nil {
		return nil, err
	}
	s.activity.Record("note.create", "", note.ID, authorID, "")
	return note, nil
}

// ListStageNotes returns notes for a stage instance, newest first.
func (s *Service) ListStageNotes(stageInstanceID string) ([]models.StageNote, error) {
	return s.store.ListStageNotes(stageInstanceID)
}

// UpdateStageNote rewrites a note's content and privacy flag.
func (s *Service) UpdateStageNote(id, content string, isPrivate bool) (*models.StageNote, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: note content is required", ErrValidation)
	}
	note, err := s.store.GetStageNote(id)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, ErrNoteNotFound
	}
	note.Content = content
	note.IsPrivate = isPrivate
	if err := s.store.UpdateStageNote(note); err != nil {
		return nil, err
	}
	return note, nil
}

// DeleteStageNote removes a note by id.
func (s *Service) DeleteStageNote(id string) error {
	note, err := s.store.GetStageNote(id)
	if err != nil {
		return err
	}
	if note == nil {
		return ErrNoteNotFound
	}
	return s.store.DeleteStageNote(id)
}

// --- Activity ---

// GetActivity returns the mutation history for an opportunity.
func (s *Service) GetActivity(opportunityID string) ([]models.ActivityEntry, error) {
	if _, err := s.GetOpportunity(opportunityID); err != nil {
		return nil, err
	}
	return s.activity.ForOpportunity(opportunityID)
}

func (s *Service) mustGet(id string) (*models.Opportunity, error) {
	opp, err := s.store.GetOpportunity(id)
	if err != nil {
		return nil, err
	}
	if opp == nil {
		return nil, ErrOpportunityNotFound
	}
	return opp, nil
}
