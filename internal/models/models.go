// Package models defines the core domain types for Boxbrain.
package models

import "time"

// StageStatus represents the execution state of a stage instance.
type StageStatus string

const (
	StageNotStarted StageStatus = "not_started"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageSkipped    StageStatus = "skipped"
)

// Valid reports whether s is a known stage status.
func (s StageStatus) Valid() bool {
	switch s {
	case StageNotStarted, StageInProgress, StageCompleted, StageSkipped:
		return true
	}
	return false
}

// ChecklistStatus represents the state of a single checklist item.
type ChecklistStatus string

const (
	ChecklistTodo ChecklistStatus = "todo"
	ChecklistDone ChecklistStatus = "done"
	ChecklistNA   ChecklistStatus = "na"
)

// Valid reports whether c is a known checklist status.
func (c ChecklistStatus) Valid() bool {
	switch c {
	case ChecklistTodo, ChecklistDone, ChecklistNA:
		return true
	}
	return false
}

// OpportunityStatus represents the lifecycle state of an opportunity.
type OpportunityStatus string

const (
	OpportunityActive     OpportunityStatus = "active"
	OpportunityParked     OpportunityStatus = "parked"
	OpportunityClosedWon  OpportunityStatus = "closed_won"
	OpportunityClosedLost OpportunityStatus = "closed_lost"
	OpportunityArchived   OpportunityStatus = "archived"
)

// Valid reports whether o is a known opportunity status.
func (o OpportunityStatus) Valid() bool {
	switch o {
	case OpportunityActive, OpportunityParked, OpportunityClosedWon, OpportunityClosedLost, OpportunityArchived:
		return true
	}
	return false
}

// Health is a coarse deal-health indicator.
type Health string

const (
	HealthGreen  Health = "green"
	HealthYellow Health = "yellow"
	HealthRed    Health = "red"
)

// Valid reports whether h is a known health value.
func (h Health) Valid() bool {
	switch h {
	case HealthGreen, HealthYellow, HealthRed:
		return true
	}
	return false
}

// StageDefinition describes one stage of a play template. The key is
// unique within the template and is the join key for stage instances.
type StageDefinition struct {
	Key            string   `json:"key" yaml:"key"`
	Label          string   `json:"label" yaml:"label"`
	Objective      string   `json:"objective" yaml:"objective"`
	Guidance       string   `json:"guidance" yaml:"guidance"`
	ChecklistItems []string `json:"checklist_items" yaml:"checklist_items"`
}

// PlayTemplate is an immutable catalog entry describing a reusable
// stage-structured sales methodology. Read-only to the execution core;
// edits happen through a separate admin surface.
type PlayTemplate struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	Summary            string            `json:"summary"`
	Offering           string            `json:"offering"` // may be comma-joined
	Technologies       []string          `json:"technologies"`
	StageScope         []string          `json:"stage_scope"`
	Stages             []StageDefinition `json:"stages"`
	Sector             string            `json:"sector"`
	Geo                string            `json:"geo"`
	Tags               []string          `json:"tags"`
	Owners             []string          `json:"owners"`
	DefaultTeamMembers []string          `json:"default_team_members"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// HasStageKey reports whether key is part of the template's stage scope.
// Callers must treat a missing key as a data-integrity error.
func (p *PlayTemplate) HasStageKey(key string) bool {
	for _, k := range p.StageScope {
		if k == key {
			return true
		}
	}
	return false
}

// StageByKey returns the stage definition for key, if the template
// carries one.
func (p *PlayTemplate) StageByKey(key string) (StageDefinition, bool) {
	for _, s := range p.Stages {
		if s.Key == key {
			return s, true
		}
	}
	return StageDefinition{}, false
}

// CustomChecklistItem is a user-added task on a stage instance,
// independent of the template-defined checklist.
type CustomChecklistItem struct {
	ID     string          `json:"id"`
	Text   string          `json:"text"`
	Status ChecklistStatus `json:"status"` // todo or done
}

// OpportunityStageInstance tracks execution of one template stage for one
// attached play. ChecklistItemStatuses is keyed by the checklist item
// text as defined in the template; renaming an item in the template
// orphans its prior status here.
type OpportunityStageInstance struct {
	ID                    string                     `json:"id"`
	OpportunityPlayID     string                     `json:"opportunity_play_id"`
	PlayStageKey          string                     `json:"play_stage_key"`
	Status                StageStatus                `json:"status"`
	StartDate             *time.Time                 `json:"start_date,omitempty"`
	TargetDate            *time.Time                 `json:"target_date,omitempty"`
	CompletedDate         *time.Time                 `json:"completed_date,omitempty"`
	SummaryNote           string                     `json:"summary_note,omitempty"`
	ChecklistItemStatuses map[string]ChecklistStatus `json:"checklist_item_statuses"`
	CustomChecklistItems  []CustomChecklistItem      `json:"custom_checklist_items"`
	Version               int64                      `json:"version"`
	UpdatedAt             time.Time                  `json:"updated_at"`
}

// OpportunityPlay is one instantiation of a play template onto an
// opportunity. The play ID is a weak reference to the template; the
// template is never owned by the opportunity.
type OpportunityPlay struct {
	ID                    string                     `json:"id"`
	OpportunityID         string                     `json:"opportunity_id"`
	PlayID                string                     `json:"play_id"`
	IsPrimary             bool                       `json:"is_primary"`
	SelectedTechnologyIDs []string                   `json:"selected_technology_ids"`
	IsActive              bool                       `json:"is_active"`
	StageInstances        []OpportunityStageInstance `json:"stage_instances"`
	CreatedAt             time.Time                  `json:"created_at"`
}

// Opportunity is a deal. Team membership is an insertion-ordered
// set-like list of user ids.
type Opportunity struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	AccountName       string            `json:"account_name"`
	SalesStage        string            `json:"sales_stage"`
	Region            string            `json:"region"`
	Sector            string            `json:"sector,omitempty"`
	ProblemStatement  string            `json:"problem_statement,omitempty"`
	Tags              []string          `json:"tags"`
	TeamMemberUserIDs []string          `json:"team_member_user_ids"`
	CurrentStageKey   string            `json:"current_stage_key,omitempty"`
	Health            Health            `json:"health"`
	Status            OpportunityStatus `json:"status"`
	OpportunityPlays  []OpportunityPlay `json:"opportunity_plays"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// StageNote is a timestamped comment on a single stage instance.
// Ordered newest-first for display.
type StageNote struct {
	ID              string    `json:"id"`
	StageInstanceID string    `json:"stage_instance_id"`
	Content         string    `json:"content"`
	IsPrivate       bool      `json:"is_private"`
	AuthorID        string    `json:"author_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OpportunityQuery describes a deal for matching against the play
// catalog.
type OpportunityQuery struct {
	Sector       string   `json:"sector"`
	Offering     string   `json:"offering"`
	Stage        string   `json:"stage"`
	Technologies []string `json:"technologies"`
	Geo          string   `json:"geo"`
	Tags         []string `json:"tags"`
	Notes        string   `json:"notes,omitempty"`
}

// Dictionary holds the free-text vocabularies maintained outside this
// core. Read-only here; OfferingToTechnologies is the lookup table the
// matcher uses for data shaping.
type Dictionary struct {
	Offerings              []string            `json:"offerings"`
	Technologies           []string            `json:"technologies"`
	Stages                 []string            `json:"stages"`
	Sectors                []string            `json:"sectors"`
	Geos                   []string            `json:"geos"`
	Tags                   []string            `json:"tags"`
	OfferingToTechnologies map[string][]string `json:"offering_to_technologies"`
	TechnologyCategories   map[string]string   `json:"technology_categories,omitempty"`
}

// ActivityEntry records one mutation against an opportunity aggregate.
type ActivityEntry struct {
	ID            string    `json:"id"`
	Action        string    `json:"action"`
	OpportunityID string    `json:"opportunity_id,omitempty"`
	EntityID      string    `json:"entity_id,omitempty"`
	ActorID       string    `json:"actor_id,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
