package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/model"
)

// GetProject returns one project by id.
func (s *SQLiteStorage) GetProject(ctx context.Context, id string) (*model.Project, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, name, description, address, city, tax_id, budget, status, validated
		FROM projects
		WHERE id = ?`

	var p model.Project
	var description, address, city, taxID, budget, status sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &description, &address, &city, &taxID, &budget, &status, &p.Validated,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}

	p.Description = description.String
	p.Address = address.String
	p.City = city.String
	p.TaxID = taxID.String
	p.Budget = budget.String
	p.Status = status.String
	return &p, nil
}

// GetValidatedProjects returns matching candidates: only validated
// projects, ordered by id so matching runs see a stable iteration order.
func (s *SQLiteStorage) GetValidatedProjects(ctx context.Context) ([]model.Project, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, name, description, address, city, tax_id, budget, status, validated
		FROM projects
		WHERE validated = 1
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		var description, address, city, taxID, budget, status sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &description, &address, &city, &taxID, &budget, &status, &p.Validated); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Description = description.String
		p.Address = address.String
		p.City = city.String
		p.TaxID = taxID.String
		p.Budget = budget.String
		p.Status = status.String
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	slog.Debug("retrieved validated projects", "count", len(projects))
	return projects, nil
}

// SaveProject inserts or replaces a project record.
func (s *SQLiteStorage) SaveProject(ctx context.Context, project *model.Project) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if project == nil {
		return fmt.Errorf("%w: project", ErrNilParameter)
	}
	if err := validateString(project.ID, "project.ID"); err != nil {
		return err
	}

	query := `
		INSERT INTO projects (id, name, description, address, city, tax_id, budget, status, validated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			address = excluded.address,
			city = excluded.city,
			tax_id = excluded.tax_id,
			budget = excluded.budget,
			status = excluded.status,
			validated = excluded.validated`

	if _, err := s.db.ExecContext(ctx, query,
		project.ID, project.Name, project.Description, project.Address,
		project.City, project.TaxID, project.Budget, project.Status, project.Validated,
	); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}
