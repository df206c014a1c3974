package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"crm-automation/internal/models"
)

var dealColumns = []string{
	"deal_id", "deal_title", "type_deal", "type_nmn", "who_created",
	"created_ts", "deadline", "dock_id", "regions",
}

// BulkInsertDeals streams deals into the deals table with the pgx COPY
// protocol, bypassing per-row round trips.
func (s *Store) BulkInsertDeals(ctx context.Context, deals []models.Deal) error {
	if len(deals) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(deals))
	for _, d := range deals {
		rows = append(rows, []any{
			d.ID, d.Title, d.TypeDeal, d.TypeNmn, d.WhoCreated,
			d.CreatedAt, d.Deadline, d.DocID, d.Regions,
		})
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		pgConn := driverConn.(*stdlib.Conn).Conn()
		n, err := pgConn.CopyFrom(ctx, pgx.Identifier{"deals"}, dealColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return err
		}
		s.logger.Info("Deals copied", zap.Int64("rows", n))
		return nil
	})
	if err != nil {
		return fmt.Errorf("copy deals: %w", err)
	}
	return nil
}

// ActiveDealRef identifies an open deal and its responsible manager.
type ActiveDealRef struct {
	ID         int64  `db:"deal_id"`
	Title      string `db:"deal_title"`
	WhoCreated string `db:"who_created"`
}

// ActiveDeals lists deals not yet closed.
func (s *Store) ActiveDeals(ctx context.Context) ([]ActiveDealRef, error) {
	var deals []ActiveDealRef
	err := s.db.SelectContext(ctx, &deals,
		`SELECT deal_id, deal_title, who_created FROM deals WHERE is_closed = false`)
	if err != nil {
		return nil, fmt.Errorf("active deals: %w", err)
	}
	return deals, nil
}

// HotDeals lists the given deals whose deadline is closer than the interval.
func (s *Store) HotDeals(ctx context.Context, dealIDs []int64, deadlineHours int) ([]ActiveDealRef, error) {
	if len(dealIDs) == 0 {
		return nil, nil
	}

	var deals []ActiveDealRef
	err := s.db.SelectContext(ctx, &deals, `
		SELECT deal_id, deal_title, who_created FROM deals
		WHERE deal_id = ANY($1)
		  AND NOW() > (deadline - make_interval(hours => $2))`,
		pq.Array(dealIDs), deadlineHours)
	if err != nil {
		return nil, fmt.Errorf("hot deals: %w", err)
	}
	return deals, nil
}

// UnbookedDeals lists open deals that have no tracked messages yet.
func (s *Store) UnbookedDeals(ctx context.Context) ([]models.Deal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT deal_id, deal_title, type_deal, type_nmn, who_created,
		       created_ts, deadline, dock_id, regions
		FROM deals
		WHERE is_closed = false
		  AND deal_id NOT IN (SELECT deal_id FROM msgs)`)
	if err != nil {
		return nil, fmt.Errorf("unbooked deals: %w", err)
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		var d models.Deal
		err := rows.Scan(&d.ID, &d.Title, pq.Array(&d.TypeDeal), pq.Array(&d.TypeNmn),
			&d.WhoCreated, &d.CreatedAt, &d.Deadline, &d.DocID, pq.Array(&d.Regions))
		if err != nil {
			return nil, fmt.Errorf("scan unbooked deal: %w", err)
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

// DealIDs returns every stored deal ID.
func (s *Store) DealIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT deal_id FROM deals`); err != nil {
		return nil, fmt.Errorf("deal ids: %w", err)
	}
	return ids, nil
}

// DealReady reports whether every tracked message of the deal is answered.
func (s *Store) DealReady(ctx context.Context, dealID int64) (bool, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `
		SELECT deal_id FROM msgs
		WHERE deal_id = $1
		GROUP BY deal_id
		HAVING BOOL_AND(is_answered) = true`, dealID)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("deal ready %d: %w", dealID, err)
	}
	return id == dealID, nil
}

// CloseDeal marks a deal closed.
func (s *Store) CloseDeal(ctx context.Context, dealID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE deals SET is_closed = true WHERE deal_id = $1`, dealID)
	if err != nil {
		return fmt.Errorf("close deal %d: %w", dealID, err)
	}
	s.logger.Info("Deal closed", zap.Int64("deal_id", dealID))
	return nil
}

// DeleteDeal removes a deal that disappeared from the portal.
func (s *Store) DeleteDeal(ctx context.Context, dealID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM deals WHERE deal_id = $1`, dealID)
	if err != nil {
		return fmt.Errorf("delete deal %d: %w", dealID, err)
	}
	return nil
}
