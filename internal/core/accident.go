package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vetle/fleet/internal/model"
	"github.com/vetle/fleet/internal/platform"
)

type AccidentService struct {
	db DB
}

func NewAccidentService(db DB) *AccidentService {
	return &AccidentService{db: db}
}

// Open records a failure for a server, reusing the existing unresolved
// accident if one is open so failures never stack up. Returns the accident
// and true if it was newly created.
func (s *AccidentService) Open(ctx context.Context, acc *model.ServerAccident) (bool, error) {
	var existing model.ServerAccident
	err := s.db.QueryRow(ctx,
		`SELECT id, server_id, error, details, response_time, resolved, created_at, updated_at
		 FROM server_accidents WHERE server_id = $1 AND NOT resolved`,
		acc.ServerID,
	).Scan(&existing.ID, &existing.ServerID, &existing.Error, &existing.Details,
		&existing.ResponseTime, &existing.Resolved, &existing.CreatedAt, &existing.UpdatedAt)
	switch {
	case err == nil:
		*acc = existing
		return false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("look up open accident: %w", err)
	}

	now := time.Now()
	acc.ID = platform.NewName("acc")
	acc.Resolved = false
	acc.CreatedAt = now
	acc.UpdatedAt = now

	_, err = s.db.Exec(ctx,
		`INSERT INTO server_accidents (id, server_id, error, details, response_time, resolved, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		acc.ID, acc.ServerID, acc.Error, acc.Details, acc.ResponseTime,
		acc.Resolved, acc.CreatedAt, acc.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("create accident: %w", err)
	}
	return true, nil
}

// ResolveOpen marks the server's unresolved accident (if any) as resolved.
// Called when a probe for that server succeeds again.
func (s *AccidentService) ResolveOpen(ctx context.Context, serverID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE server_accidents SET resolved = TRUE, updated_at = $1
		 WHERE server_id = $2 AND NOT resolved`,
		time.Now(), serverID,
	)
	if err != nil {
		return fmt.Errorf("resolve accidents for %s: %w", serverID, err)
	}
	return nil
}

// Resolve marks one accident resolved by explicit operator action.
func (s *AccidentService) Resolve(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE server_accidents SET resolved = TRUE, updated_at = $1 WHERE id = $2`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("resolve accident %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("accident %s: %w", id, ErrNotFound)
	}
	return nil
}

// AccidentFilters holds the optional filters for listing accidents.
type AccidentFilters struct {
	ServerID  string
	StartDate *time.Time
	EndDate   *time.Time
	Resolved  *bool
}

// AccidentPage is one page of accidents with pagination metadata.
type AccidentPage struct {
	Accidents  []model.ServerAccident `json:"accidents"`
	TotalCount int64                  `json:"total_count"`
	TotalPages int                    `json:"total_pages"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"page_size"`
}

// List returns accidents newest first, paginated 1-indexed. A page beyond the
// valid range is clamped to the last page rather than rejected.
func (s *AccidentService) List(ctx context.Context, filters AccidentFilters, page, pageSize int) (*AccidentPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	var conditions []string
	var args []any
	argN := 1

	if filters.ServerID != "" {
		conditions = append(conditions, fmt.Sprintf("server_id = $%d", argN))
		args = append(args, filters.ServerID)
		argN++
	}
	if filters.StartDate != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argN))
		args = append(args, *filters.StartDate)
		argN++
	}
	if filters.EndDate != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argN))
		args = append(args, *filters.EndDate)
		argN++
	}
	if filters.Resolved != nil {
		conditions = append(conditions, fmt.Sprintf("resolved = $%d", argN))
		args = append(args, *filters.Resolved)
		argN++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM server_accidents"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count accidents: %w", err)
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if totalPages == 0 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}

	query := `SELECT id, server_id, error, details, response_time, resolved, created_at, updated_at
	          FROM server_accidents` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accidents: %w", err)
	}
	defer rows.Close()

	accidents := []model.ServerAccident{}
	for rows.Next() {
		var a model.ServerAccident
		if err := rows.Scan(&a.ID, &a.ServerID, &a.Error, &a.Details,
			&a.ResponseTime, &a.Resolved, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan accident: %w", err)
		}
		accidents = append(accidents, a)
	}

	return &AccidentPage{
		Accidents:  accidents,
		TotalCount: total,
		TotalPages: totalPages,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// Delete removes one accident.
func (s *AccidentService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM server_accidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete accident %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("accident %s: %w", id, ErrNotFound)
	}
	return nil
}

// BatchDelete removes accidents best-effort: ids that do not exist are
// skipped, and the number actually deleted is returned.
func (s *AccidentService) BatchDelete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM server_accidents WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("batch delete accidents: %w", err)
	}
	return tag.RowsAffected(), nil
}
