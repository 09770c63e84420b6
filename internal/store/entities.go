package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type Idea struct {
	ID        string
	Title     string
	Status    string
	AuthorID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Component is a structural child of an idea: its summary, a challenge,
// or an approach. All three live in tables of identical shape.
type Component struct {
	ID        string
	IdeaID    string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Objective struct {
	ID          string
	Title       string
	Description string
	Status      string
	AuthorID    string
	ParentID    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	IdeaStatusDraft    = "Draft"
	IdeaStatusActive   = "Active"
	IdeaStatusArchived = "Archived"

	ObjectiveStatusActive  = "Active"
	ObjectiveStatusRetired = "Retired"
)

func (s *Store) CreateUser(ctx context.Context, name string) (User, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name) VALUES (?, ?);`, id, name)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return User{ID: id, Name: name, CreatedAt: time.Now().UTC()}, nil
}

func (s *Store) CreateIdea(ctx context.Context, title, authorID string) (Idea, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ideas (id, title, author_id) VALUES (?, ?, ?);`, id, title, authorID)
	if err != nil {
		return Idea{}, fmt.Errorf("create idea: %w", err)
	}
	return Idea{ID: id, Title: title, Status: IdeaStatusDraft, AuthorID: authorID}, nil
}

func (s *Store) GetIdea(ctx context.Context, id string) (Idea, error) {
	var (
		idea      Idea
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, status, author_id, created_at, updated_at
		FROM ideas WHERE id = ?;
	`, id).Scan(&idea.ID, &idea.Title, &idea.Status, &idea.AuthorID, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Idea{}, fmt.Errorf("idea %s: %w", id, errNotFound)
		}
		return Idea{}, fmt.Errorf("get idea: %w", err)
	}
	idea.CreatedAt = parseTime(createdAt)
	idea.UpdatedAt = parseTime(updatedAt)
	return idea, nil
}

func (s *Store) SetIdeaStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ideas SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
	`, status, id)
	if err != nil {
		return fmt.Errorf("set idea status: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("idea %s: %w", id, errNotFound)
	}
	return nil
}

func (s *Store) createComponent(ctx context.Context, table, ideaID, content string) (Component, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, idea_id, content) VALUES (?, ?, ?);`, table),
		id, ideaID, content)
	if err != nil {
		return Component{}, fmt.Errorf("create %s: %w", table, err)
	}
	return Component{ID: id, IdeaID: ideaID, Content: content}, nil
}

func (s *Store) getComponent(ctx context.Context, table, id string) (Component, error) {
	var (
		c         Component
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, idea_id, content, created_at, updated_at FROM %s WHERE id = ?;`, table),
		id).Scan(&c.ID, &c.IdeaID, &c.Content, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Component{}, fmt.Errorf("%s %s: %w", table, id, errNotFound)
		}
		return Component{}, fmt.Errorf("get %s: %w", table, err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func (s *Store) CreateSummary(ctx context.Context, ideaID, content string) (Component, error) {
	return s.createComponent(ctx, "summaries", ideaID, content)
}

func (s *Store) GetSummary(ctx context.Context, id string) (Component, error) {
	return s.getComponent(ctx, "summaries", id)
}

// SummaryForIdea returns an idea's summary. Ideas have at most one.
func (s *Store) SummaryForIdea(ctx context.Context, ideaID string) (Component, error) {
	var (
		c         Component
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, idea_id, content, created_at, updated_at
		FROM summaries WHERE idea_id = ?;
	`, ideaID).Scan(&c.ID, &c.IdeaID, &c.Content, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Component{}, fmt.Errorf("summary for idea %s: %w", ideaID, errNotFound)
		}
		return Component{}, fmt.Errorf("summary for idea: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func (s *Store) CreateChallenge(ctx context.Context, ideaID, content string) (Component, error) {
	return s.createComponent(ctx, "challenges", ideaID, content)
}

func (s *Store) GetChallenge(ctx context.Context, id string) (Component, error) {
	return s.getComponent(ctx, "challenges", id)
}

func (s *Store) CreateApproach(ctx context.Context, ideaID, content string) (Component, error) {
	return s.createComponent(ctx, "approaches", ideaID, content)
}

func (s *Store) GetApproach(ctx context.Context, id string) (Component, error) {
	return s.getComponent(ctx, "approaches", id)
}

// HasStructure reports whether an idea has at least one challenge or
// approach attached. Ideas without structure are nurture candidates.
func (s *Store) HasStructure(ctx context.Context, ideaID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(1) FROM challenges WHERE idea_id = ?)
		     + (SELECT COUNT(1) FROM approaches WHERE idea_id = ?);
	`, ideaID, ideaID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count structure: %w", err)
	}
	return n > 0, nil
}

func (s *Store) CreateObjective(ctx context.Context, title, description, authorID string, parentID *string) (Objective, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO objectives (id, title, description, author_id, parent_id)
		VALUES (?, ?, ?, ?, ?);
	`, id, title, description, authorID, parentID)
	if err != nil {
		return Objective{}, fmt.Errorf("create objective: %w", err)
	}
	return Objective{
		ID: id, Title: title, Description: description,
		Status: ObjectiveStatusActive, AuthorID: authorID, ParentID: parentID,
	}, nil
}

func (s *Store) GetObjective(ctx context.Context, id string) (Objective, error) {
	var (
		o         Objective
		parentID  sql.NullString
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, author_id, parent_id, created_at, updated_at
		FROM objectives WHERE id = ?;
	`, id).Scan(&o.ID, &o.Title, &o.Description, &o.Status, &o.AuthorID, &parentID, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Objective{}, fmt.Errorf("objective %s: %w", id, errNotFound)
		}
		return Objective{}, fmt.Errorf("get objective: %w", err)
	}
	if parentID.Valid {
		o.ParentID = &parentID.String
	}
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return o, nil
}

func (s *Store) SetObjectiveStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE objectives SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
	`, status, id)
	if err != nil {
		return fmt.Errorf("set objective status: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("objective %s: %w", id, errNotFound)
	}
	return nil
}

func (s *Store) SetObjectiveParent(ctx context.Context, id string, parentID *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE objectives SET parent_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
	`, parentID, id)
	if err != nil {
		return fmt.Errorf("set objective parent: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("objective %s: %w", id, errNotFound)
	}
	return nil
}

// ListActiveObjectives returns every active objective, oldest first.
func (s *Store) ListActiveObjectives(ctx context.Context) ([]Objective, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, author_id, parent_id, created_at, updated_at
		FROM objectives WHERE status = ? ORDER BY created_at ASC;
	`, ObjectiveStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active objectives: %w", err)
	}
	defer rows.Close()

	var out []Objective
	for rows.Next() {
		var (
			o         Objective
			parentID  sql.NullString
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&o.ID, &o.Title, &o.Description, &o.Status, &o.AuthorID, &parentID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan objective: %w", err)
		}
		if parentID.Valid {
			o.ParentID = &parentID.String
		}
		o.CreatedAt = parseTime(createdAt)
		o.UpdatedAt = parseTime(updatedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// LinkIdeaToObjective records an idea/objective association. Repeats are
// no-ops.
func (s *Store) LinkIdeaToObjective(ctx context.Context, ideaID, objectiveID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO idea_objectives (idea_id, objective_id) VALUES (?, ?);
	`, ideaID, objectiveID)
	if err != nil {
		return fmt.Errorf("link idea to objective: %w", err)
	}
	return nil
}

func (s *Store) UnlinkIdeaFromObjective(ctx context.Context, ideaID, objectiveID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM idea_objectives WHERE idea_id = ? AND objective_id = ?;
	`, ideaID, objectiveID)
	if err != nil {
		return fmt.Errorf("unlink idea from objective: %w", err)
	}
	return nil
}

func (s *Store) IdeaIDsForObjective(ctx context.Context, objectiveID string) ([]string, error) {
	return s.stringColumn(ctx, `
		SELECT idea_id FROM idea_objectives WHERE objective_id = ? ORDER BY linked_at ASC;
	`, objectiveID)
}

func (s *Store) ObjectiveIDsForIdea(ctx context.Context, ideaID string) ([]string, error) {
	return s.stringColumn(ctx, `
		SELECT objective_id FROM idea_objectives WHERE idea_id = ? ORDER BY linked_at ASC;
	`, ideaID)
}

// AddWatch subscribes a user to a target. Repeats are no-ops.
func (s *Store) AddWatch(ctx context.Context, userID, targetType, targetID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO watches (user_id, target_type, target_id) VALUES (?, ?, ?);
	`, userID, targetType, targetID)
	if err != nil {
		return fmt.Errorf("add watch: %w", err)
	}
	return nil
}

// WatchersOf returns user ids watching the target.
func (s *Store) WatchersOf(ctx context.Context, targetType, targetID string) ([]string, error) {
	return s.stringColumn(ctx, `
		SELECT user_id FROM watches WHERE target_type = ? AND target_id = ? ORDER BY created_at ASC;
	`, targetType, targetID)
}

func (s *Store) stringColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
