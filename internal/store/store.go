// Package store provides SQLite-backed persistence for Boxbrain.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/miethe/boxbrain/internal/models"
	_ "modernc.org/sqlite"
)

// ErrStaleVersion indicates an optimistic-concurrency failure: the stage
// instance was modified since the caller read it.
var ErrStaleVersion = fmt.Errorf("stage instance version is stale")

// Store provides access to the Boxbrain SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plays (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		summary TEXT,
		offering TEXT,
		technologies TEXT,
		stage_scope TEXT,
		stages TEXT,
		sector TEXT,
		geo TEXT,
		tags TEXT,
		owners TEXT,
		default_team_members TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS opportunities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		account_name TEXT,
		sales_stage TEXT,
		region TEXT,
		sector TEXT,
		problem_statement TEXT,
		tags TEXT,
		team_member_user_ids TEXT,
		current_stage_key TEXT,
		health TEXT NOT NULL DEFAULT 'green',
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS opportunity_plays (
		id TEXT PRIMARY KEY,
		opportunity_id TEXT NOT NULL,
		play_id TEXT NOT NULL,
		is_primary INTEGER NOT NULL DEFAULT 0,
		selected_technology_ids TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (opportunity_id) REFERENCES opportunities(id)
	);

	CREATE TABLE IF NOT EXISTS stage_instances (
		id TEXT PRIMARY KEY,
		opportunity_play_id TEXT NOT NULL,
		play_stage_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'not_started',
		start_date DATETIME,
		target_date DATETIME,
		completed_date DATETIME,
		summary_note TEXT,
		checklist_item_statuses TEXT,
		custom_checklist_items TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (opportunity_play_id) REFERENCES opportunity_plays(id)
	);

	CREATE TABLE IF NOT EXISTS stage_notes (
		id TEXT PRIMARY KEY,
		stage_instance_id TEXT NOT NULL,
		content TEXT NOT NULL,
		is_private INTEGER NOT NULL DEFAULT 0,
		author_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (stage_instance_id) REFERENCES stage_instances(id)
	);

	CREATE TABLE IF NOT EXISTS dictionary_terms (
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT,
		offering TEXT,
		PRIMARY KEY (kind, name)
	);

	CREATE TABLE IF NOT EXISTS activity (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		opportunity_id TEXT,
		entity_id TEXT,
		actor_id TEXT,
		detail TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_opp_plays_opportunity_id ON opportunity_plays(opportunity_id);
	CREATE INDEX IF NOT EXISTS idx_stage_instances_play_id ON stage_instances(opportunity_play_id);
	CREATE INDEX IF NOT EXISTS idx_stage_notes_instance_id ON stage_notes(stage_instance_id);
	CREATE INDEX IF NOT EXISTS idx_activity_opportunity_id ON activity(opportunity_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalStrings(raw sql.NullString) []string {
	var out []string
	if raw.Valid && raw.String != "" {
		json.Unmarshal([]byte(raw.String), &out)
	}
	return out
}

// --- Play Catalog Operations ---

// CreatePlay inserts a play template. A missing id is minted.
func (s *Store) CreatePlay(p *models.PlayTemplate) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO plays (id, title, summary, offering, technologies, stage_scope, stages, sector, geo, tags, owners, default_team_members, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Summary, p.Offering,
		marshalJSON(p.Technologies), marshalJSON(p.StageScope), marshalJSON(p.Stages),
		p.Sector, p.Geo, marshalJSON(p.Tags), marshalJSON(p.Owners), marshalJSON(p.DefaultTeamMembers),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert play: %w", err)
	}
	return nil
}

// UpsertPlay inserts or replaces a play template by id. Used by catalog
// seeding only; the execution core treats templates as read-only.
func (s *Store) UpsertPlay(p *models.PlayTemplate) error {
	existing, err := s.GetPlay(p.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return s.CreatePlay(p)
	}
	p.UpdatedAt = time.Now().UTC()
	_, err = s.db.Exec(
		`UPDATE plays SET title = ?, summary = ?, offering = ?, technologies = ?, stage_scope = ?, stages = ?, sector = ?, geo = ?, tags = ?, owners = ?, default_team_members = ?, updated_at = ? WHERE id = ?`,
		p.Title, p.Summary, p.Offering,
		marshalJSON(p.Technologies), marshalJSON(p.StageScope), marshalJSON(p.Stages),
		p.Sector, p.Geo, marshalJSON(p.Tags), marshalJSON(p.Owners), marshalJSON(p.DefaultTeamMembers),
		p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update play: %w", err)
	}
	return nil
}

const playColumns = `id, title, summary, offering, technologies, stage_scope, stages, sector, geo, tags, owners, default_team_members, created_at, updated_at`

func scanPlay(scan func(...interface{}) error) (*models.PlayTemplate, error) {
	p := &models.PlayTemplate{}
	var summary, offering, sector, geo sql.NullString
	var technologies, stageScope, stages, tags, owners, defaultTeam sql.NullString

	err := scan(&p.ID, &p.Title, &summary, &offering, &technologies, &stageScope, &stages,
		&sector, &geo, &tags, &owners, &defaultTeam, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Summary = summary.String
	p.Offering = offering.String
	p.Sector = sector.String
	p.Geo = geo.String
	p.Technologies = unmarshalStrings(technologies)
	p.StageScope = unmarshalStrings(stageScope)
	p.Tags = unmarshalStrings(tags)
	p.Owners = unmarshalStrings(owners)
	p.DefaultTeamMembers = unmarshalStrings(defaultTeam)
	if stages.Valid && stages.String != "" {
		json.Unmarshal([]byte(stages.String), &p.Stages)
	}
	return p, nil
}

// GetPlay retrieves a play template by id, or nil when absent.
func (s *Store) GetPlay(id string) (*models.PlayTemplate, error) {
	row := s.db.QueryRow(`SELECT `+playColumns+` FROM plays WHERE id = ?`, id)
	p, err := scanPlay(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query play: %w", err)
	}
	return p, nil
}

// ListPlays returns the full play catalog, newest first.
func (s *Store) ListPlays() ([]models.PlayTemplate, error) {
	rows, err := s.db.Query(`SELECT ` + playColumns + ` FROM plays ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query plays: %w", err)
	}
	defer rows.Close()

	var plays []models.PlayTemplate
	for rows.Next() {
		p, err := scanPlay(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan play: %w", err)
		}
		plays = append(plays, *p)
	}
	return plays, rows.Err()
}

// --- Opportunity Operations ---

// CreateOpportunity inserts a new opportunity. Attached plays are not
// written here; use InsertOpportunityPlay.
func (s *Store) CreateOpportunity(o *models.Opportunity) error {
	now := time.Now().UTC()
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.Health == "" {
		o.Health = models.HealthGreen
	}
	if o.Status == "" {
		o.Status = models.OpportunityActive
	}

	_, err := s.db.Exec(
		`INSERT INTO opportunities (id, name, account_name, sales_stage, region, sector, problem_statement, tags, team_member_user_ids, current_stage_key, health, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Name, o.AccountName, o.SalesStage, o.Region, o.Sector, o.ProblemStatement,
		marshalJSON(o.Tags), marshalJSON(o.TeamMemberUserIDs), o.CurrentStageKey,
		o.Health, o.Status, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert opportunity: %w", err)
	}
	return nil
}

const opportunityColumns = `id, name, account_name, sales_stage, region, sector, problem_statement, tags, team_member_user_ids, current_stage_key, health, status, created_at, updated_at`

func scanOpportunity(scan func(...interface{}) error) (*models.Opportunity, error) {
	o := &models.Opportunity{}
	var accountName, salesStage, region, sector, problem, currentStage sql.NullString
	var tags, team sql.NullString

	err := scan(&o.ID, &o.Name, &accountName, &salesStage, &region, &sector, &problem,
		&tags, &team, &currentStage, &o.Health, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.AccountName = accountName.String
	o.SalesStage = salesStage.String
	o.Region = region.String
	o.Sector = sector.String
	o.ProblemStatement = problem.String
	o.CurrentStageKey = currentStage.String
	o.Tags = unmarshalStrings(tags)
	o.TeamMemberUserIDs = unmarshalStrings(team)
	return o, nil
}

// GetOpportunity retrieves an opportunity with its attached plays and
// stage instances fully populated. Returns nil when absent.
func (s *Store) GetOpportunity(id string) (*models.Opportunity, error) {
	row := s.db.QueryRow(`SELECT `+opportunityColumns+` FROM opportunities WHERE id = ?`, id)
	o, err := scanOpportunity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query opportunity: %w", err)
	}
	if err := s.loadOpportunityPlays(o); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOpportunities returns all opportunities, newest first, with nested
// plays and stage instances populated.
func (s *Store) ListOpportunities() ([]models.Opportunity, error) {
	rows, err := s.db.Query(`SELECT ` + opportunityColumns + ` FROM opportunities ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query opportunities: %w", err)
	}
	defer rows.Close()

	var opps []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		opps = append(opps, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range opps {
		if err := s.loadOpportunityPlays(&opps[i]); err != nil {
			return nil, err
		}
	}
	return opps, nil
}

// UpdateOpportunity rewrites the opportunity's own fields. Nested plays
// and stage instances are managed through their own operations.
func (s *Store) UpdateOpportunity(o *models.Opportunity) error {
	o.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE opportunities SET name = ?, account_name = ?, sales_stage = ?, region = ?, sector = ?, problem_statement = ?, tags = ?, team_member_user_ids = ?, current_stage_key = ?, health = ?, status = ?, updated_at = ? WHERE id = ?`,
		o.Name, o.AccountName, o.SalesStage, o.Region, o.Sector, o.ProblemStatement,
		marshalJSON(o.Tags), marshalJSON(o.TeamMemberUserIDs), o.CurrentStageKey,
		o.Health, o.Status, o.UpdatedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update opportunity: %w", err)
	}
	return nil
}

// ReplaceTeamMembers persists the team list for an opportunity.
func (s *Store) ReplaceTeamMembers(opportunityID string, userIDs []string) error {
	_, err := s.db.Exec(
		`UPDATE opportunities SET team_member_user_ids = ?, updated_at = ? WHERE id = ?`,
		marshalJSON(userIDs), time.Now().UTC(), opportunityID,
	)
	if err != nil {
		return fmt.Errorf("update team members: %w", err)
	}
	return nil
}

// DeleteOpportunity removes an opportunity and everything it owns.
func (s *Store) DeleteOpportunity(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`DELETE FROM stage_notes WHERE stage_instance_id IN (
			SELECT si.id FROM stage_instances si
			JOIN opportunity_plays op ON si.opportunity_play_id = op.id
			WHERE op.opportunity_id = ?)`, id)
	if err != nil {
		return fmt.Errorf("delete stage notes: %w", err)
	}
	_, err = tx.Exec(
		`DELETE FROM stage_instances WHERE opportunity_play_id IN (
			SELECT id FROM opportunity_plays WHERE opportunity_id = ?)`, id)
	if err != nil {
		return fmt.Errorf("delete stage instances: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM opportunity_plays WHERE opportunity_id = ?`, id); err != nil {
		return fmt.Errorf("delete opportunity plays: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM opportunities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete opportunity: %w", err)
	}
	return tx.Commit()
}

// --- OpportunityPlay Operations ---

// InsertOpportunityPlay writes a play attachment and all of its stage
// instances in a single transaction; on any error nothing is persisted.
func (s *Store) InsertOpportunityPlay(op *models.OpportunityPlay) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO opportunity_plays (id, opportunity_id, play_id, is_primary, selected_technology_ids, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.OpportunityID, op.PlayID, boolToInt(op.IsPrimary),
		marshalJSON(op.SelectedTechnologyIDs), boolToInt(op.IsActive), op.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert opportunity play: %w", err)
	}

	for _, si := range op.StageInstances {
		_, err = tx.Exec(
			`INSERT INTO stage_instances (id, opportunity_play_id, play_stage_key, status, start_date, target_date, completed_date, summary_note, checklist_item_statuses, custom_checklist_items, version, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			si.ID, si.OpportunityPlayID, si.PlayStageKey, si.Status,
			si.StartDate, si.TargetDate, si.CompletedDate, si.SummaryNote,
			marshalJSON(si.ChecklistItemStatuses), marshalJSON(si.CustomChecklistItems),
			si.Version, si.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert stage instance: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteOpportunityPlay removes one attachment and its stage instances
// and notes.
func (s *Store) DeleteOpportunityPlay(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`DELETE FROM stage_notes WHERE stage_instance_id IN (
			SELECT id FROM stage_instances WHERE opportunity_play_id = ?)`, id)
	if err != nil {
		return fmt.Errorf("delete stage notes: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM stage_instances WHERE opportunity_play_id = ?`, id); err != nil {
		return fmt.Errorf("delete stage instances: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM opportunity_plays WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete opportunity play: %w", err)
	}
	return tx.Commit()
}

// ClearPrimary demotes every attached play of the opportunity.
func (s *Store) ClearPrimary(opportunityID string) error {
	_, err := s.db.Exec(`UPDATE opportunity_plays SET is_primary = 0 WHERE opportunity_id = ?`, opportunityID)
	return err
}

func (s *Store) loadOpportunityPlays(o *models.Opportunity) error {
	rows, err := s.db.Query(
		`SELECT id, opportunity_id, play_id, is_primary, selected_technology_ids, is_active, created_at
		 FROM opportunity_plays WHERE opportunity_id = ? ORDER BY created_at ASC`,
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("query opportunity plays: %w", err)
	}
	defer rows.Close()

	var plays []models.OpportunityPlay
	for rows.Next() {
		var op models.OpportunityPlay
		var isPrimary, isActive int
		var selected sql.NullString
		if err := rows.Scan(&op.ID, &op.OpportunityID, &op.PlayID, &isPrimary, &selected, &isActive, &op.CreatedAt); err != nil {
			return fmt.Errorf("scan opportunity play: %w", err)
		}
		op.IsPrimary = isPrimary != 0
		op.IsActive = isActive != 0
		op.SelectedTechnologyIDs = unmarshalStrings(selected)
		plays = append(plays, op)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range plays {
		instances, err := s.listStageInstances(plays[i].ID)
		if err != nil {
			return err
		}
		plays[i].StageInstances = instances
	}
	o.OpportunityPlays = plays
	return nil
}

// --- Stage Instance Operations ---

const stageInstanceColumns = `id, opportunity_play_id, play_stage_key, status, start_date, target_date, completed_date, summary_note, checklist_item_statuses, custom_checklist_items, version, updated_at`

func scanStageInstance(scan func(...interface{}) error) (*models.OpportunityStageInstance, error) {
	si := &models.OpportunityStageInstance{}
	var start, target, completed sql.NullTime
	var summary, checklist, custom sql.NullString

	err := scan(&si.ID, &si.OpportunityPlayID, &si.PlayStageKey, &si.Status,
		&start, &target, &completed, &summary, &checklist, &custom, &si.Version, &si.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if start.Valid {
		si.StartDate = &start.Time
	}
	if target.Valid {
		si.TargetDate = &target.Time
	}
	if completed.Valid {
		si.CompletedDate = &completed.Time
	}
	si.SummaryNote = summary.String
	si.ChecklistItemStatuses = make(map[string]models.ChecklistStatus)
	if checklist.Valid && checklist.String != "" {
		json.Unmarshal([]byte(checklist.String), &si.ChecklistItemStatuses)
	}
	si.CustomChecklistItems = []models.CustomChecklistItem{}
	if custom.Valid && custom.String != "" {
		json.Unmarshal([]byte(custom.String), &si.CustomChecklistItems)
	}
	return si, nil
}

func (s *Store) listStageInstances(opportunityPlayID string) ([]models.OpportunityStageInstance, error) {
	rows, err := s.db.Query(
		`SELECT `+stageInstanceColumns+` FROM stage_instances WHERE opportunity_play_id = ? ORDER BY rowid ASC`,
		opportunityPlayID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stage instances: %w", err)
	}
	defer rows.Close()

	var instances []models.OpportunityStageInstance
	for rows.Next() {
		si, err := scanStageInstance(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan stage instance: %w", err)
		}
		instances = append(instances, *si)
	}
	return instances, rows.Err()
}

// GetStageInstance looks up one instance by its owning attachment and
// stage key. Returns nil when absent.
func (s *Store) GetStageInstance(opportunityPlayID, stageKey string) (*models.OpportunityStageInstance, error) {
	row := s.db.QueryRow(
		`SELECT `+stageInstanceColumns+` FROM stage_instances WHERE opportunity_play_id = ? AND play_stage_key = ?`,
		opportunityPlayID, stageKey,
	)
	si, err := scanStageInstance(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stage instance: %w", err)
	}
	return si, nil
}

// GetStageInstanceByID looks up one instance by id. Returns nil when
// absent.
func (s *Store) GetStageInstanceByID(id string) (*models.OpportunityStageInstance, error) {
	row := s.db.QueryRow(`SELECT `+stageInstanceColumns+` FROM stage_instances WHERE id = ?`, id)
	si, err := scanStageInstance(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stage instance: %w", err)
	}
	return si, nil
}

// UpdateStageInstance writes the instance state in one statement,
// guarded by the version the caller read. A baseVersion < 0 skips the
// check (last-write-wins). On success the instance's version and
// updated_at are refreshed in place.
func (s *Store) UpdateStageInstance(si *models.OpportunityStageInstance, baseVersion int64) error {
	now := time.Now().UTC()

	query := `UPDATE stage_instances SET status = ?, start_date = ?, target_date = ?, completed_date = ?, summary_note = ?, checklist_item_statuses = ?, custom_checklist_items = ?, version = version + 1, updated_at = ? WHERE id = ?`
	args := []interface{}{
		si.Status, si.StartDate, si.TargetDate, si.CompletedDate, si.SummaryNote,
		marshalJSON(si.ChecklistItemStatuses), marshalJSON(si.CustomChecklistItems),
		now, si.ID,
	}
	if baseVersion >= 0 {
		query += ` AND version = ?`
		args = append(args, baseVersion)
	}

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update stage instance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		if baseVersion >= 0 {
			return ErrStaleVersion
		}
		return sql.ErrNoRows
	}

	refreshed, err := s.GetStageInstanceByID(si.ID)
	if err != nil {
		return err
	}
	si.Version = refreshed.Version
	si.UpdatedAt = refreshed.UpdatedAt
	return nil
}

// InsertStageInstance appends a single instance to an existing
// attachment (used by explicit stage-scope resync).
func (s *Store) InsertStageInstance(si *models.OpportunityStageInstance) error {
	_, err := s.db.Exec(
		`INSERT INTO stage_instances (id, opportunity_play_id, play_stage_key, status, start_date, target_date, completed_date, summary_note, checklist_item_statuses, custom_checklist_items, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		si.ID, si.OpportunityPlayID, si.PlayStageKey, si.Status,
		si.StartDate, si.TargetDate, si.CompletedDate, si.SummaryNote,
		marshalJSON(si.ChecklistItemStatuses), marshalJSON(si.CustomChecklistItems),
		si.Version, si.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stage instance: %w", err)
	}
	return nil
}

// --- Stage Note Operations ---

// CreateStageNote inserts a note against a stage instance.
func (s *Store) CreateStageNote(n *models.StageNote) error {
	now := time.Now().UTC()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = now
	n.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO stage_notes (id, stage_instance_id, content, is_private, author_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.StageInstanceID, n.Content, boolToInt(n.IsPrivate), n.AuthorID, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stage note: %w", err)
	}
	return nil
}

// GetStageNote retrieves a note by id, or nil when absent.
func (s *Store) GetStageNote(id string) (*models.StageNote, error) {
	n := &models.StageNote{}
	var isPrivate int
	var authorID sql.NullString

	err := s.db.QueryRow(
		`SELECT id, stage_instance_id, content, is_private, author_id, created_at, updated_at FROM stage_notes WHERE id = ?`,
		id,
	).Scan(&n.ID, &n.StageInstanceID, &n.Content, &isPrivate, &authorID, &n.CreatedAt, &n.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stage note: %w", err)
	}
	n.IsPrivate = isPrivate != 0
	n.AuthorID = authorID.String
	return n, nil
}

// ListStageNotes returns notes for a stage instance, newest first.
func (s *Store) ListStageNotes(stageInstanceID string) ([]models.StageNote, error) {
	rows, err := s.db.Query(
		`SELECT id, stage_instance_id, content, is_private, author_id, created_at, updated_at
		 FROM stage_notes WHERE stage_instance_id = ? ORDER BY created_at DESC`,
		stageInstanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stage notes: %w", err)
	}
	defer rows.Close()

	var notes []models.StageNote
	for rows.Next() {
		var n models.StageNote
		var isPrivate int
		var authorID sql.NullString
		if err := rows.Scan(&n.ID, &n.StageInstanceID, &n.Content, &isPrivate, &authorID, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stage note: %w", err)
		}
		n.IsPrivate = isPrivate != 0
		n.AuthorID = authorID.String
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// UpdateStageNote rewrites a note's content and privacy flag.
func (s *Store) UpdateStageNote(n *models.StageNote) error {
	n.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE stage_notes SET content = ?, is_private = ?, updated_at = ? WHERE id = ?`,
		n.Content, boolToInt(n.IsPrivate), n.UpdatedAt, n.ID,
	)
	if err != nil {
		return fmt.Errorf("update stage note: %w", err)
	}
	return nil
}

// DeleteStageNote removes a note by id.
func (s *Store) DeleteStageNote(id string) error {
	_, err := s.db.Exec(`DELETE FROM stage_notes WHERE id = ?`, id)
	return err
}

// --- Dictionary Operations ---

// UpsertDictionaryTerm writes one dictionary term. Category applies to
// technologies; offering links a technology to its owning offering.
func (s *Store) UpsertDictionaryTerm(kind, name, category, offering string) error {
	_, err := s.db.Exec(
		`INSERT INTO dictionary_terms (kind, name, category, offering) VALUES (?, ?, ?, ?)
		 ON CONFLICT(kind, name) DO UPDATE SET category = excluded.category, offering = excluded.offering`,
		kind, name, category, offering,
	)
	if err != nil {
		return fmt.Errorf("upsert dictionary term: %w", err)
	}
	return nil
}

// GetDictionary assembles the full dictionary snapshot, including the
// offering to technologies lookup.
func (s *Store) GetDictionary() (*models.Dictionary, error) {
	rows, err := s.db.Query(`SELECT kind, name, category, offering FROM dictionary_terms ORDER BY kind, name`)
	if err != nil {
		return nil, fmt.Errorf("query dictionary: %w", err)
	}
	defer rows.Close()

	dict := &models.Dictionary{
		OfferingToTechnologies: make(map[string][]string),
		TechnologyCategories:   make(map[string]string),
	}
	for rows.Next() {
		var kind, name string
		var category, offering sql.NullString
		if err := rows.Scan(&kind, &name, &category, &offering); err != nil {
			return nil, fmt.Errorf("scan dictionary term: %w", err)
		}
		switch kind {
		case "offering":
			dict.Offerings = append(dict.Offerings, name)
			if _, ok := dict.OfferingToTechnologies[name]; !ok {
				dict.OfferingToTechnologies[name] = []string{}
			}
		case "technology":
			dict.Technologies = append(dict.Technologies, name)
			if category.Valid && category.String != "" {
				dict.TechnologyCategories[name] = category.String
			}
			if offering.Valid && offering.String != "" {
				dict.OfferingToTechnologies[offering.String] = append(dict.OfferingToTechnologies[offering.String], name)
			}
		case "stage":
			dict.Stages = append(dict.Stages, name)
		case "sector":
			dict.Sectors = append(dict.Sectors, name)
		case "geo":
			dict.Geos = append(dict.Geos, name)
		case "tag":
			dict.Tags = append(dict.Tags, name)
		}
	}
	return dict, rows.Err()
}

// --- Activity Operations ---

// AppendActivity records one mutation.
func (s *Store) AppendActivity(e *models.ActivityEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO activity (id, action, opportunity_id, entity_id, actor_id, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.OpportunityID, e.EntityID, e.ActorID, e.Detail, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity returns activity for an opportunity, newest first.
func (s *Store) ListActivity(opportunityID string) ([]models.ActivityEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, action, opportunity_id, entity_id, actor_id, detail, timestamp
		 FROM activity WHERE opportunity_id = ? ORDER BY timestamp DESC, id`,
		opportunityID,
	)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var entries []models.ActivityEntry
	for rows.Next() {
		var e models.ActivityEntry
		var oppID, entityID, actorID, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &oppID, &entityID, &actorID, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.OpportunityID = oppID.String
		e.EntityID = entityID.String
		e.ActorID = actorID.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
