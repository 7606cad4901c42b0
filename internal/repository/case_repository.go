package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/moderation/internal/database"
	"github.com/tullo/moderation/internal/models"
)

const activeCaseIndex = "uniq_moderation_cases_active"

const caseColumns = `id, source_type, source_id, state, evidence, assigned_moderator_id,
	first_response_at, resolved_at, version, created_at, updated_at`

type CaseRepository struct {
	db *database.DB
}

func NewCaseRepository(db *database.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*models.ModerationCase, error) {
	c := &models.ModerationCase{}
	var evidence []byte
	if err := row.Scan(
		&c.ID,
		&c.SourceType,
		&c.SourceID,
		&c.State,
		&evidence,
		&c.AssignedModeratorID,
		&c.FirstResponseAt,
		&c.ResolvedAt,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &c.Evidence); err != nil {
			return nil, fmt.Errorf("failed to decode evidence: %w", err)
		}
	}
	if c.Evidence == nil {
		c.Evidence = []models.EvidenceEntry{}
	}
	return c, nil
}

func encodeEvidence(evidence []models.EvidenceEntry) ([]byte, error) {
	if evidence == nil {
		evidence = []models.EvidenceEntry{}
	}
	b, err := json.Marshal(evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evidence: %w", err)
	}
	return b, nil
}

// FindActive returns the non-resolved case for a source, or ErrNotFound.
func (r *CaseRepository) FindActive(ctx context.Context, sourceType models.SourceType, sourceID uuid.UUID) (*models.ModerationCase, error) {
	query := `SELECT ` + caseColumns + `
		FROM moderation_cases
		WHERE source_type = $1 AND source_id = $2 AND state <> $3
		LIMIT 1`

	c, err := scanCase(r.db.QueryRowContext(ctx, query, sourceType, sourceID, models.CaseResolved))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active case: %w", err)
	}
	return c, nil
}

// GetByID retrieves a case by ID
func (r *CaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ModerationCase, error) {
	query := `SELECT ` + caseColumns + ` FROM moderation_cases WHERE id = $1`

	c, err := scanCase(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return c, nil
}

// Create inserts a new case. A concurrent create for the same active source
// yields ErrActiveCaseExists. created_at is c.CreatedAt in UTC, or the
// current UTC time when unset; it is never left to the database clock.
func (r *CaseRepository) Create(ctx context.Context, c *models.ModerationCase) error {
	evidence, err := encodeEvidence(c.Evidence)
	if err != nil {
		return err
	}
	createdAt := c.CreatedAt.UTC()
	if c.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO moderation_cases (id, source_type, source_id, state, evidence, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		RETURNING version, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query, c.ID, c.SourceType, c.SourceID, c.State, evidence, createdAt).
		Scan(&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err, activeCaseIndex) {
		return ErrActiveCaseExists
	}
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

// UpdateEvidence replaces the evidence list if the case is still at
// expectedVersion and active. On success the case's version is bumped.
func (r *CaseRepository) UpdateEvidence(ctx context.Context, c *models.ModerationCase, evidence []models.EvidenceEntry) error {
	raw, err := encodeEvidence(evidence)
	if err != nil {
		return err
	}

	query := `
		UPDATE moderation_cases
		SET evidence = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3 AND state <> $4
		RETURNING version, updated_at
	`
	err = r.db.QueryRowContext(ctx, query, c.ID, raw, c.Version, models.CaseResolved).
		Scan(&c.Version, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrStaleCase
	}
	if err != nil {
		return fmt.Errorf("failed to update case evidence: %w", err)
	}
	c.Evidence = evidence
	return nil
}

// ListStaleOpen returns open cases created before cutoff, oldest first.
func (r *CaseRepository) ListStaleOpen(ctx context.Context, cutoff time.Time, limit int) ([]*models.ModerationCase, error) {
	query := `SELECT ` + caseColumns + `
		FROM moderation_cases
		WHERE state = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`

	return r.list(ctx, query, models.CaseOpen, cutoff, limit)
}

// TransitionParams carries the optional columns written with a state change.
type TransitionParams struct {
	ModeratorID     *uuid.UUID
	FirstResponseAt *time.Time
	ResolvedAt      *time.Time
}

// Transition moves a case from one state to another. The update only applies
// while the case is still in from; otherwise ErrStaleCase is returned.
// first_response_at is only ever set once.
func (r *CaseRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.CaseState, p TransitionParams) (*models.ModerationCase, error) {
	query := `
		UPDATE moderation_cases
		SET state = $3,
			assigned_moderator_id = COALESCE($4, assigned_moderator_id),
			first_response_at = COALESCE(first_response_at, $5),
			resolved_at = COALESCE($6, resolved_at),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND state = $2
		RETURNING ` + caseColumns

	c, err := scanCase(r.db.QueryRowContext(ctx, query, id, from, to, p.ModeratorID, p.FirstResponseAt, p.ResolvedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStaleCase
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition case: %w", err)
	}
	return c, nil
}

// CountByState returns the number of cases per state.
func (r *CaseRepository) CountByState(ctx context.Context) (map[models.CaseState]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM moderation_cases GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cases: %w", err)
	}
	defer rows.Close()

	res := map[models.CaseState]int{}
	for rows.Next() {
		var state models.CaseState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan case count: %w", err)
		}
		res[state] = n
	}
	return res, rows.Err()
}

// List returns cases newest first, optionally filtered by state.
func (r *CaseRepository) List(ctx context.Context, state models.CaseState, limit, offset int) ([]*models.ModerationCase, error) {
	if limit <= 0 {
		limit = 50
	}
	if state == "" {
		query := `SELECT ` + caseColumns + `
			FROM moderation_cases
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2`
		return r.list(ctx, query, limit, offset)
	}

	query := `SELECT ` + caseColumns + `
		FROM moderation_cases
		WHERE state = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	return r.list(ctx, query, state, limit, offset)
}

func (r *CaseRepository) list(ctx context.Context, query string, args ...any) ([]*models.ModerationCase, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}
	defer rows.Close()

	res := []*models.ModerationCase{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
