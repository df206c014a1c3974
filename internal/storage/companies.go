package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"crm-automation/internal/models"
)

// UpsertCompany inserts a company card, ignoring duplicates on cmp_id.
func (s *Store) UpsertCompany(ctx context.Context, c models.Company) error {
	const query = `
		INSERT INTO cmps (cmp_id, cmp_name, cmp_types, cmp_nmn, contact_name, contact_email, regions, date_modify)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (cmp_id) DO NOTHING`

	regions := c.Regions
	if len(regions) == 0 {
		regions = []string{"Без региона"}
	}

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name, pq.Array(c.Types), pq.Array(c.Nomenclature),
		c.ContactName, c.ContactEmail, pq.Array(regions), c.DateModify)
	if err != nil {
		return fmt.Errorf("insert company %d: %w", c.ID, err)
	}
	s.logger.Info("Company inserted", zap.Int64("cmp_id", c.ID))
	return nil
}

// UpdateCompany rewrites a company card in place.
func (s *Store) UpdateCompany(ctx context.Context, c models.Company) error {
	const query = `
		UPDATE cmps
		SET cmp_name = $1, cmp_types = $2, cmp_nmn = $3, contact_name = $4,
		    contact_email = $5, regions = $6, date_modify = $7
		WHERE cmp_id = $8`

	_, err := s.db.ExecContext(ctx, query,
		c.Name, pq.Array(c.Types), pq.Array(c.Nomenclature),
		c.ContactName, c.ContactEmail, pq.Array(c.Regions), c.DateModify, c.ID)
	if err != nil {
		return fmt.Errorf("update company %d: %w", c.ID, err)
	}
	s.logger.Info("Company updated", zap.Int64("cmp_id", c.ID))
	return nil
}

// Contractor is the slice of a company card needed to address a request.
type Contractor struct {
	CompanyID    int64  `db:"cmp_id"`
	ContactName  string `db:"contact_name"`
	ContactEmail string `db:"contact_email"`
}

// FindContractors matches companies whose types and nomenclature overlap the
// deal's. Regions narrow the match only when the deal actually has them.
func (s *Store) FindContractors(ctx context.Context, types, nmn, regions []string) ([]Contractor, error) {
	query := `
		SELECT cmp_id, contact_name, contact_email
		FROM cmps
		WHERE cmp_types && $1 AND cmp_nmn && $2`
	args := []any{pq.Array(types), pq.Array(nmn)}

	if len(regions) > 0 && !(len(regions) == 1 && regions[0] == "Без региона") {
		query += ` AND regions && $3`
		args = append(args, pq.Array(regions))
	}

	var contractors []Contractor
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find contractors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Contractor
		if err := rows.StructScan(&c); err != nil {
			return nil, fmt.Errorf("scan contractor: %w", err)
		}
		contractors = append(contractors, c)
	}
	return contractors, rows.Err()
}

// CompanyMaxID returns the highest stored company ID, zero for an empty table.
func (s *Store) CompanyMaxID(ctx context.Context) (int64, error) {
	var maxID *int64
	if err := s.db.GetContext(ctx, &maxID, `SELECT MAX(cmp_id) FROM cmps`); err != nil {
		return 0, fmt.Errorf("company max id: %w", err)
	}
	if maxID == nil {
		return 0, nil
	}
	return *maxID, nil
}

// CompanyModifyStamps returns all company IDs with their last-modified time,
// ordered by ID. Used to diff against the CRM during sync.
func (s *Store) CompanyModifyStamps(ctx context.Context) (map[int64]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cmp_id, date_modify FROM cmps ORDER BY cmp_id`)
	if err != nil {
		return nil, fmt.Errorf("company modify stamps: %w", err)
	}
	defer rows.Close()

	stamps := make(map[int64]time.Time)
	for rows.Next() {
		var id int64
		var ts time.Time
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, fmt.Errorf("scan modify stamp: %w", err)
		}
		stamps[id] = ts
	}
	return stamps, rows.Err()
}
