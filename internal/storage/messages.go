package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crm-automation/internal/models"
)

// CreateMessage records an outgoing tracked message. Duplicate msg_ids are
// ignored so re-running a job never double-books a request.
func (s *Store) CreateMessage(ctx context.Context, m models.TrackedMessage) error {
	const query = `
		INSERT INTO msgs (msg_id, deal_id, sender, company_id, receiver, contact_name, dock_id, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (msg_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		m.MsgID, m.DealID, m.Sender, m.CompanyID, m.Receiver, m.ContactName, m.DocID, m.Deadline)
	if err != nil {
		return fmt.Errorf("create message %s: %w", m.MsgID, err)
	}
	return nil
}

// UnsentMessages lists tracked messages of open deals that still wait to be
// sent out.
func (s *Store) UnsentMessages(ctx context.Context) ([]models.TrackedMessage, error) {
	const query = `
		SELECT m.msg_id, m.sender, m.receiver, m.contact_name, m.dock_id, m.deadline, d.deal_title
		FROM msgs AS m
		JOIN deals AS d ON m.deal_id = d.deal_id
		WHERE m.is_send = false AND d.is_closed = false`

	var msgs []models.TrackedMessage
	if err := s.db.SelectContext(ctx, &msgs, query); err != nil {
		return nil, fmt.Errorf("unsent messages: %w", err)
	}
	return msgs, nil
}

// PendingReply is a sent message still waiting for an answer.
type PendingReply struct {
	MsgID  string    `db:"msg_id"`
	Sender string    `db:"sender"`
	SentAt time.Time `db:"ts_send"`
	DealID int64     `db:"deal_id"`
}

// UnansweredMessages lists sent messages of open deals without a reply yet.
func (s *Store) UnansweredMessages(ctx context.Context) ([]PendingReply, error) {
	const query = `
		SELECT m.msg_id, m.sender, m.ts_send, m.deal_id
		FROM msgs AS m
		JOIN deals AS d ON m.deal_id = d.deal_id
		WHERE m.is_answered = false AND m.ts_send IS NOT NULL AND d.is_closed = false`

	var msgs []PendingReply
	if err := s.db.SelectContext(ctx, &msgs, query); err != nil {
		return nil, fmt.Errorf("unanswered messages: %w", err)
	}
	return msgs, nil
}

// ResendCandidates lists unanswered messages that crossed the midpoint
// between send time and deadline and were not reminded yet.
func (s *Store) ResendCandidates(ctx context.Context) ([]models.TrackedMessage, error) {
	const query = `
		SELECT m.msg_id, m.sender, m.receiver, m.contact_name, m.dock_id, m.deadline, d.deal_title
		FROM msgs AS m
		JOIN deals AS d ON m.deal_id = d.deal_id
		WHERE m.is_answered = false
		  AND d.is_closed = false
		  AND m.resend = false
		  AND m.deadline > m.ts_send
		  AND NOW() >= m.ts_send + (m.deadline - m.ts_send) / 2`

	var msgs []models.TrackedMessage
	if err := s.db.SelectContext(ctx, &msgs, query); err != nil {
		return nil, fmt.Errorf("resend candidates: %w", err)
	}
	return msgs, nil
}

// MarkSent stamps a message as sent and stores the rendered HTML body.
func (s *Store) MarkSent(ctx context.Context, msgID, htmlBody string) error {
	const query = `
		UPDATE msgs SET ts_send = NOW(), is_send = true, html_body = $1
		WHERE msg_id = $2`

	if _, err := s.db.ExecContext(ctx, query, htmlBody, msgID); err != nil {
		return fmt.Errorf("mark sent %s: %w", msgID, err)
	}
	s.logger.Info("Message marked as sent", zap.String("msg_id", msgID))
	return nil
}

// MarkAnswered stamps a message as answered, keeping at most 1000 characters
// of the reply body and an optional attachment file ID.
func (s *Store) MarkAnswered(ctx context.Context, msgID, body string, fileID *int64) error {
	const query = `
		UPDATE msgs SET is_answered = true, ts_answer = NOW(), body_answer = $1, dock_id = COALESCE($2, dock_id)
		WHERE msg_id = $3`

	if body == "" {
		body = "Пустое сообщение"
	}
	if len([]rune(body)) > 1000 {
		body = string([]rune(body)[:1000])
	}

	if _, err := s.db.ExecContext(ctx, query, body, fileID, msgID); err != nil {
		return fmt.Errorf("mark answered %s: %w", msgID, err)
	}
	s.logger.Info("Message marked as answered", zap.String("msg_id", msgID))
	return nil
}

// MarkResent stamps a message as reminded and stores the reminder body.
func (s *Store) MarkResent(ctx context.Context, msgID, htmlBody string) error {
	const query = `UPDATE msgs SET resend = true, html_body = $1 WHERE msg_id = $2`

	if _, err := s.db.ExecContext(ctx, query, htmlBody, msgID); err != nil {
		return fmt.Errorf("mark resent %s: %w", msgID, err)
	}
	return nil
}

// ReplyFile is a contractor answer document joined with its company name.
type ReplyFile struct {
	CompanyName string `db:"cmp_name"`
	FileID      int64  `db:"id"`
	Content     []byte `db:"content"`
}

// ReplyFiles collects answer documents of a deal.
func (s *Store) ReplyFiles(ctx context.Context, dealID int64) ([]ReplyFile, error) {
	const query = `
		SELECT c.cmp_name, f.id, f.content
		FROM files AS f
		JOIN msgs AS m ON f.id = m.dock_id
		JOIN cmps AS c ON m.company_id = c.cmp_id
		WHERE m.deal_id = $1 AND m.is_answered = true`

	var files []ReplyFile
	if err := s.db.SelectContext(ctx, &files, query, dealID); err != nil {
		return nil, fmt.Errorf("reply files %d: %w", dealID, err)
	}
	return files, nil
}

// ReplyText is a contractor answer body joined with its company name.
type ReplyText struct {
	CompanyName string `db:"cmp_name"`
	Body        string `db:"body_answer"`
}

// ReplyTexts collects non-empty answer bodies of a deal.
func (s *Store) ReplyTexts(ctx context.Context, dealID int64) ([]ReplyText, error) {
	const query = `
		SELECT c.cmp_name, m.body_answer
		FROM msgs AS m
		JOIN cmps AS c ON m.company_id = c.cmp_id
		WHERE m.deal_id = $1 AND m.is_answered = true AND m.body_answer IS NOT NULL`

	var texts []ReplyText
	if err := s.db.SelectContext(ctx, &texts, query, dealID); err != nil {
		return nil, fmt.Errorf("reply texts %d: %w", dealID, err)
	}
	return texts, nil
}

// ExportRow is one line of the Google Sheets export.
type ExportRow struct {
	DealTitle    string    `db:"deal_title"`
	TypeDeal     []string  `db:"type_deal"`
	TypeNmn      []string  `db:"type_nmn"`
	Deadline     time.Time `db:"deadline"`
	CompanyName  string    `db:"cmp_name"`
	ContactName  string    `db:"contact_name"`
	ContactEmail string    `db:"contact_email"`
	Regions      []string  `db:"regions"`
}

// ExportRows joins tracked messages with their deal and company for export.
func (s *Store) ExportRows(ctx context.Context) ([]ExportRow, error) {
	const query = `
		SELECT d.deal_title, d.type_deal, d.type_nmn, d.deadline,
		       c.cmp_name, c.contact_name, c.contact_email, d.regions
		FROM msgs AS m
		JOIN deals AS d ON d.deal_id = m.deal_id
		JOIN cmps AS c ON c.cmp_id = m.company_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("export rows: %w", err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var r ExportRow
		if err := rows.Scan(&r.DealTitle, pqStringArray(&r.TypeDeal), pqStringArray(&r.TypeNmn),
			&r.Deadline, &r.CompanyName, &r.ContactName, &r.ContactEmail, pqStringArray(&r.Regions)); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
