package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"crm-automation/internal/models"
)

// InsertMailLog records every message seen during a scan in one transaction.
func (s *Store) InsertMailLog(ctx context.Context, emails []models.Email) error {
	if len(emails) == 0 {
		return nil
	}

	const query = `
		INSERT INTO orders.msgs_order
			(msg_id, reply_to, reference, sender, receiver, msg_time,
			 value_attach, files, subject, body, signature, folder)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mail log tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range emails {
		_, err := tx.ExecContext(ctx, query,
			e.MessageID, e.InReplyTo, pq.Array(e.References), e.From, pq.Array(e.To),
			e.DateSent, e.Attachments, pq.Array(e.FileIDs), e.Subject, e.TextBody,
			e.Signature, e.Folder)
		if err != nil {
			return fmt.Errorf("insert mail log %s: %w", e.MessageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mail log: %w", err)
	}
	s.logger.Info("Mail log written", zap.Int("messages", len(emails)))
	return nil
}

// InsertScanRecord books a completed mailbox scan.
func (s *Store) InsertScanRecord(ctx context.Context, r models.ScanRecord) error {
	const query = `
		INSERT INTO orders.order_book (manager, scan_ts, value_msg)
		VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, r.Manager, r.ScanTS, r.Messages); err != nil {
		return fmt.Errorf("insert scan record: %w", err)
	}
	return nil
}

// LastScanStamp returns the time of the manager's most recent scan, or zero
// when the mailbox was never scanned.
func (s *Store) LastScanStamp(ctx context.Context, manager string) (time.Time, error) {
	var ts *time.Time
	err := s.db.GetContext(ctx, &ts,
		`SELECT MAX(scan_ts) FROM orders.order_book WHERE manager = $1`, manager)
	if err != nil {
		return time.Time{}, fmt.Errorf("last scan stamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// ScanVolume is the number of scanned messages booked on a given day.
type ScanVolume struct {
	Date  time.Time `db:"date"`
	Count int64     `db:"sum_values"`
}

// ScanStats aggregates the scan volume of the last ten days.
func (s *Store) ScanStats(ctx context.Context) ([]ScanVolume, error) {
	const query = `
		SELECT DATE(scan_ts) AS date, SUM(value_msg) AS sum_values
		FROM orders.order_book
		WHERE scan_ts >= CURRENT_DATE - INTERVAL '10 days'
		GROUP BY DATE(scan_ts)
		ORDER BY date`

	var stats []ScanVolume
	if err := s.db.SelectContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("scan stats: %w", err)
	}
	return stats, nil
}
