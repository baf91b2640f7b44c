package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"steward/core/internal/fault"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertProject(ctx context.Context, p Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (key, phase, phase_reason, phase_at, created_by_name)
		VALUES ($1, $2, $3, NOW(), $4)
	`, p.Key, p.Phase, p.PhaseReason, p.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return fault.Newf(fault.CodeInvalidState, "project %s already exists", p.Key)
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, key string) (Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `
		SELECT key, phase, phase_reason, phase_at, created_by_name, created_at, closed_at
		FROM projects
		WHERE key=$1
	`, key).Scan(&p.Key, &p.Phase, &p.PhaseReason, &p.PhaseAt, &p.CreatedBy, &p.CreatedAt, &p.ClosedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fault.Newf(fault.CodeNotFound, "project %s not found", key)
	}
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]ProjectSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.key, p.phase, p.phase_reason, p.phase_at, p.created_by_name, p.created_at, p.closed_at,
			COUNT(*) FILTER (WHERE pr.status = 'pending'),
			COUNT(*) FILTER (WHERE pr.status = 'applied')
		FROM projects p
		LEFT JOIN proposals pr ON pr.project_key = p.key
		GROUP BY p.key
		ORDER BY p.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectSummary, 0)
	for rows.Next() {
		var item ProjectSummary
		if err := rows.Scan(&item.Key, &item.Phase, &item.PhaseReason, &item.PhaseAt,
			&item.CreatedBy, &item.CreatedAt, &item.ClosedAt,
			&item.PendingProposals, &item.AppliedProposals); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

// UpdateProjectPhase moves the project to its new phase and appends the
// transition history row in one transaction.
func (s *PostgresStore) UpdateProjectPhase(ctx context.Context, key, fromPhase, toPhase, actor, reason string, terminal bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin phase tx: %w", err)
	}
	defer tx.Rollback()

	closedAt := "NULL"
	if terminal {
		closedAt = "NOW()"
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE projects
		SET phase=$2, phase_reason=$3, phase_at=NOW(), closed_at=`+closedAt+`
		WHERE key=$1 AND phase=$4
	`, key, toPhase, reason, fromPhase)
	if err != nil {
		return fmt.Errorf("update project phase: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("phase rows affected: %w", err)
	}
	if affected == 0 {
		return fault.Newf(fault.CodeInvalidState, "project %s is no longer in phase %s", key, fromPhase)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_transitions (project_key, from_phase, to_phase, actor_name, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, key, fromPhase, toPhase, actor, reason); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit phase tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTransitions(ctx context.Context, key string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_key, from_phase, to_phase, actor_name, reason, created_at
		FROM workflow_transitions
		WHERE project_key=$1
		ORDER BY id ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	items := make([]Transition, 0)
	for rows.Next() {
		var item Transition
		if err := rows.Scan(&item.ID, &item.ProjectKey, &item.FromPhase, &item.ToPhase,
			&item.Actor, &item.Reason, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertProposal(ctx context.Context, p Proposal) error {
	paths, err := json.Marshal(p.Paths)
	if err != nil {
		return fmt.Errorf("marshal proposal paths: %w", err)
	}
	contents, err := json.Marshal(p.Contents)
	if err != nil {
		return fmt.Errorf("marshal proposal contents: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, project_key, paths, base_revision, contents, diff,
			content_hash, prompt_hash, status, rationale, created_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.ProjectKey, paths, p.BaseRevision, contents, p.Diff,
		p.ContentHash, p.PromptHash, p.Status, p.Rationale, p.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (Proposal, error) {
	var (
		p        Proposal
		paths    []byte
		contents []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_key, paths, base_revision, contents, diff, content_hash,
			prompt_hash, status, rationale, created_by_name, created_at,
			applied_revision, decided_by_name, decided_at
		FROM proposals
		WHERE id=$1
	`, id).Scan(&p.ID, &p.ProjectKey, &paths, &p.BaseRevision, &contents, &p.Diff,
		&p.ContentHash, &p.PromptHash, &p.Status, &p.Rationale, &p.CreatedBy,
		&p.CreatedAt, &p.AppliedRevision, &p.DecidedBy, &p.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Proposal{}, fault.Newf(fault.CodeNotFound, "proposal %s not found", id)
	}
	if err != nil {
		return Proposal{}, fmt.Errorf("get proposal: %w", err)
	}
	if err := json.Unmarshal(paths, &p.Paths); err != nil {
		return Proposal{}, fmt.Errorf("decode proposal paths: %w", err)
	}
	if err := json.Unmarshal(contents, &p.Contents); err != nil {
		return Proposal{}, fmt.Errorf("decode proposal contents: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProposals(ctx context.Context, projectKey, status string, limit int) ([]Proposal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_key, paths, base_revision, contents, diff, content_hash,
			prompt_hash, status, rationale, created_by_name, created_at,
			applied_revision, decided_by_name, decided_at
		FROM proposals
		WHERE project_key=$1 AND ($2 = '' OR status=$2)
		ORDER BY created_at DESC
		LIMIT $3
	`, projectKey, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]Proposal, 0)
	for rows.Next() {
		var (
			p        Proposal
			paths    []byte
			contents []byte
		)
		if err := rows.Scan(&p.ID, &p.ProjectKey, &paths, &p.BaseRevision, &contents, &p.Diff,
			&p.ContentHash, &p.PromptHash, &p.Status, &p.Rationale, &p.CreatedBy,
			&p.CreatedAt, &p.AppliedRevision, &p.DecidedBy, &p.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		if err := json.Unmarshal(paths, &p.Paths); err != nil {
			return nil, fmt.Errorf("decode proposal paths: %w", err)
		}
		if err := json.Unmarshal(contents, &p.Contents); err != nil {
			return nil, fmt.Errorf("decode proposal contents: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

// DecideProposal moves a proposal out of pending. The status guard in the
// WHERE clause makes the transition race-free: a proposal already decided
// fails with InvalidState instead of being decided twice.
func (s *PostgresStore) DecideProposal(ctx context.Context, id, toStatus, decidedBy, appliedRevision string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET status=$2, decided_by_name=$3, applied_revision=$4, decided_at=NOW()
		WHERE id=$1 AND status=$5
	`, id, toStatus, decidedBy, appliedRevision, StatusPending)
	if err != nil {
		return fmt.Errorf("decide proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("decide rows affected: %w", err)
	}
	if affected == 0 {
		current, getErr := s.GetProposal(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fault.Newf(fault.CodeInvalidState, "proposal %s is %s, not %s", id, current.Status, StatusPending)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
