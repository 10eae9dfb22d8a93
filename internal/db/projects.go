package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	trailerrors "github.com/calebhsu/codetrail/internal/errors"
)

// Project is a registered watch root.
type Project struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Path             string          `json:"path"`
	Description      string          `json:"description,omitempty"`
	CreatedAt        int64           `json:"created_at"`
	Active           bool            `json:"active"`
	IgnorePatterns   []string        `json:"ignore_patterns"`
	FeatureDocPath   string          `json:"feature_doc_path,omitempty"`
	TechDoc          json.RawMessage `json:"-"`
	TechDocUpdatedAt *int64          `json:"tech_doc_updated_at,omitempty"`
}

// ProjectStats are derived counters reported alongside a project listing.
type ProjectStats struct {
	EventCount      int64  `json:"event_count"`
	HasArchitecture bool   `json:"has_architecture"`
	ChangeLogSize   int    `json:"change_log_size"`
	LastEventTS     *int64 `json:"last_event_ts,omitempty"`
}

const projectColumns = `id, name, path, description, created_at, active,
	ignore_patterns, feature_doc_path, tech_doc, tech_doc_updated_at`

// CreateProject registers a new watch root. A second project on the same
// path is rejected with DUPLICATE_PATH.
func CreateProject(database *sql.DB, name, path, description string, ignorePatterns []string) (*Project, error) {
	patterns, err := marshalPatterns(ignorePatterns)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	res, err := database.Exec(
		`INSERT INTO projects (name, path, description, created_at, active, ignore_patterns)
		 VALUES (?, ?, ?, ?, 1, ?)`,
		name, path, toNullString(description), now, patterns,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, trailerrors.NewDuplicatePath(path)
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read project id: %w", err)
	}
	return GetProject(database, id)
}

// GetProject loads one project by id.
func GetProject(database *sql.DB, id int64) (*Project, error) {
	row := database.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, trailerrors.NewNotFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project %d: %w", id, err)
	}
	return p, nil
}

// GetProjectByPath loads one project by its watch root path.
func GetProjectByPath(database *sql.DB, path string) (*Project, error) {
	row := database.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE path = ?`, path)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, trailerrors.NewNotFound("project", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project at %q: %w", path, err)
	}
	return p, nil
}

// ListProjects returns projects ordered by creation, newest first. A
// non-nil active narrows the result to that flag.
func ListProjects(database *sql.DB, active *bool) ([]*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if active != nil {
		query += ` WHERE active = ?`
		args = append(args, boolToInt(*active))
	}
	query += ` ORDER BY id DESC`
	rows, err := database.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListActiveProjects returns projects with active=1, used to decide which
// watchers to run.
func ListActiveProjects(database *sql.DB) ([]*Project, error) {
	rows, err := database.Query(`SELECT ` + projectColumns + ` FROM projects WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Stats computes the derived counters for a project.
func Stats(database *sql.DB, projectID int64) (*ProjectStats, error) {
	stats := &ProjectStats{}

	row := database.QueryRow(
		`SELECT COUNT(*), MAX(ts) FROM events WHERE project_id = ?`, projectID)
	var lastTS sql.NullInt64
	if err := row.Scan(&stats.EventCount, &lastTS); err != nil {
		return nil, fmt.Errorf("failed to count events for project %d: %w", projectID, err)
	}
	if lastTS.Valid {
		stats.LastEventTS = &lastTS.Int64
	}

	var techDoc sql.NullString
	row = database.QueryRow(`SELECT tech_doc FROM projects WHERE id = ?`, projectID)
	if err := row.Scan(&techDoc); err != nil {
		if err == sql.ErrNoRows {
			return nil, trailerrors.NewNotFound("project", projectID)
		}
		return nil, fmt.Errorf("failed to load tech doc for project %d: %w", projectID, err)
	}
	if techDoc.Valid && techDoc.String != "" {
		stats.HasArchitecture = true
		// Only the change log length is needed here, so decode just that.
		var doc struct {
			ChangeLog []json.RawMessage `json:"change_log"`
		}
		if err := json.Unmarshal([]byte(techDoc.String), &doc); err == nil {
			stats.ChangeLogSize = len(doc.ChangeLog)
		}
	}
	return stats, nil
}

// UpdateProjectConfig replaces the ignore patterns and feature doc path.
func UpdateProjectConfig(database *sql.DB, id int64, ignorePatterns []string, featureDocPath string) (*Project, error) {
	patterns, err := marshalPatterns(ignorePatterns)
	if err != nil {
		return nil, err
	}
	res, err := database.Exec(
		`UPDATE projects SET ignore_patterns = ?, feature_doc_path = ? WHERE id = ?`,
		patterns, toNullString(featureDocPath), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update project %d config: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, trailerrors.NewNotFound("project", id)
	}
	return GetProject(database, id)
}

// ProjectPatch holds the optional fields of a metadata update. Nil fields
// are left unchanged.
type ProjectPatch struct {
	Name        *string
	Description *string
	Active      *bool
}

// UpdateProjectMeta applies a partial metadata update.
func UpdateProjectMeta(database *sql.DB, id int64, patch ProjectPatch) (*Project, error) {
	current, err := GetProject(database, id)
	if err != nil {
		return nil, err
	}

	name := current.Name
	if patch.Name != nil {
		name = *patch.Name
	}
	description := current.Description
	if patch.Description != nil {
		description = *patch.Description
	}
	active := current.Active
	if patch.Active != nil {
		active = *patch.Active
	}

	_, err = database.Exec(
		`UPDATE projects SET name = ?, description = ?, active = ? WHERE id = ?`,
		name, toNullString(description), boolToInt(active), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update project %d: %w", id, err)
	}
	return GetProject(database, id)
}

// DeleteProject removes a project and every record attached to it. The
// cascade is explicit so the counts can be reported to the caller.
func DeleteProject(database *sql.DB, id int64) (eventsDeleted, conversationsDeleted int64, err error) {
	if _, err := GetProject(database, id); err != nil {
		return 0, 0, err
	}

	tx, err := database.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin delete of project %d: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM ai_code_matches WHERE conversation_id IN
		 (SELECT id FROM ai_conversations WHERE project_id = ?)`, id); err != nil {
		return 0, 0, fmt.Errorf("failed to delete matches for project %d: %w", id, err)
	}

	res, err := tx.Exec(`DELETE FROM ai_conversations WHERE project_id = ?`, id)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete conversations for project %d: %w", id, err)
	}
	conversationsDeleted, _ = res.RowsAffected()

	res, err = tx.Exec(`DELETE FROM events WHERE project_id = ?`, id)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete events for project %d: %w", id, err)
	}
	eventsDeleted, _ = res.RowsAffected()

	if _, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id); err != nil {
		return 0, 0, fmt.Errorf("failed to delete project %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit delete of project %d: %w", id, err)
	}
	return eventsDeleted, conversationsDeleted, nil
}

// GetTechDoc returns the stored architecture record, or nil when the
// project has none yet.
func GetTechDoc(database *sql.DB, projectID int64) (json.RawMessage, *int64, error) {
	var (
		doc       sql.NullString
		updatedAt sql.NullInt64
	)
	row := database.QueryRow(
		`SELECT tech_doc, tech_doc_updated_at FROM projects WHERE id = ?`, projectID)
	if err := row.Scan(&doc, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, trailerrors.NewNotFound("project", projectID)
		}
		return nil, nil, fmt.Errorf("failed to load tech doc for project %d: %w", projectID, err)
	}
	if !doc.Valid || doc.String == "" {
		return nil, nil, nil
	}
	var ts *int64
	if updatedAt.Valid {
		ts = &updatedAt.Int64
	}
	return json.RawMessage(doc.String), ts, nil
}

// SetTechDoc stores the architecture record and stamps its update time.
func SetTechDoc(database *sql.DB, projectID int64, doc json.RawMessage) error {
	res, err := database.Exec(
		`UPDATE projects SET tech_doc = ?, tech_doc_updated_at = ? WHERE id = ?`,
		string(doc), time.Now().Unix(), projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to store tech doc for project %d: %w", projectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trailerrors.NewNotFound("project", projectID)
	}
	return nil
}

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var (
		p           Project
		description sql.NullString
		active      int
		patterns    sql.NullString
		featureDoc  sql.NullString
		techDoc     sql.NullString
		techDocTS   sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Path, &description, &p.CreatedAt,
		&active, &patterns, &featureDoc, &techDoc, &techDocTS)
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	p.Active = active != 0
	p.FeatureDocPath = featureDoc.String
	if techDoc.Valid {
		p.TechDoc = json.RawMessage(techDoc.String)
	}
	if techDocTS.Valid {
		p.TechDocUpdatedAt = &techDocTS.Int64
	}
	if patterns.Valid && patterns.String != "" {
		if err := json.Unmarshal([]byte(patterns.String), &p.IgnorePatterns); err != nil {
			return nil, fmt.Errorf("corrupt ignore_patterns for project %d: %w", p.ID, err)
		}
	}
	return &p, nil
}

func marshalPatterns(patterns []string) (sql.NullString, error) {
	if len(patterns) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(patterns)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode ignore patterns: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
