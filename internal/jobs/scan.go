package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crm-automation/internal/models"
	"crm-automation/internal/services/mailscan"
)

// defaultScanWindow bounds the first scan of a mailbox that has no scan
// record yet.
const defaultScanWindow = 30 * 24 * time.Hour

// ScanJob walks every active manager mailbox, ingests new messages with
// their attachments and matches replies to tracked requests.
type ScanJob struct {
	deps *Deps
}

func NewScanJob(deps *Deps) *ScanJob {
	return &ScanJob{deps: deps}
}

func (j *ScanJob) Name() string { return "scan" }

func (j *ScanJob) Run(ctx context.Context) error {
	d := j.deps

	creds, err := d.Vault.Credentials(ctx)
	if err != nil {
		return err
	}

	pending, err := d.Store.UnansweredMessages(ctx)
	if err != nil {
		return err
	}
	pendingByID := make(map[string]bool, len(pending))
	for _, p := range pending {
		pendingByID[p.MsgID] = true
	}

	var total, matched, failed int
	for _, cred := range creds {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		count, answered, err := j.scanMailbox(ctx, cred, pendingByID)
		if err != nil {
			failed++
			d.Logger.Error("Mailbox scan failed",
				zap.String("account", cred.Email), zap.Error(err))
			continue
		}
		total += count
		matched += answered
	}

	if failed == len(creds) {
		err := fmt.Errorf("all %d mailbox scans failed", failed)
		d.Notifier.JobFailed(j.Name(), err)
		return err
	}

	if stats, err := d.Store.ScanStats(ctx); err != nil {
		d.Logger.Warn("Failed to load scan statistics", zap.Error(err))
	} else {
		for _, day := range stats {
			d.Logger.Info("Scan volume",
				zap.Time("date", day.Date), zap.Int64("messages", day.Count))
		}
	}

	d.Notifier.JobDone(j.Name(),
		fmt.Sprintf("писем: %d, ответов: %d, ошибок: %d", total, matched, failed))
	return nil
}

func (j *ScanJob) scanMailbox(ctx context.Context, cred models.Credential, pending map[string]bool) (int, int, error) {
	d := j.deps

	last, err := d.Store.LastScanStamp(ctx, cred.Email)
	if err != nil {
		return 0, 0, err
	}
	since := last
	if since.IsZero() {
		since = time.Now().Add(-defaultScanWindow)
	}

	parser := mailscan.NewParser(d.Store, d.Config.Mail.SignatureMark, d.Logger)
	scanner := mailscan.NewScanner(d.Config.Mail, cred, parser, d.Logger)

	emails, endStamp, err := scanner.Scan(ctx, since, last)
	if err != nil {
		return 0, 0, err
	}

	if len(emails) > 0 {
		if err := d.Store.InsertMailLog(ctx, emails); err != nil {
			return 0, 0, err
		}
	}

	record := models.ScanRecord{Manager: cred.Email, ScanTS: endStamp, Messages: len(emails)}
	if err := d.Store.InsertScanRecord(ctx, record); err != nil {
		return 0, 0, err
	}

	matched := 0
	for _, email := range emails {
		msgID := matchReply(email, pending)
		if msgID == "" {
			continue
		}

		var fileID *int64
		if len(email.FileIDs) > 0 {
			fileID = &email.FileIDs[0]
		}
		if err := d.Store.MarkAnswered(ctx, msgID, email.TextBody, fileID); err != nil {
			d.Logger.Error("Failed to mark message answered",
				zap.String("msg_id", msgID), zap.Error(err))
			continue
		}
		delete(pending, msgID)
		matched++

		d.Logger.Info("Reply matched",
			zap.String("msg_id", msgID),
			zap.String("from", email.From),
			zap.Int("attachments", email.Attachments))
	}

	return len(emails), matched, nil
}

// matchReply finds the tracked message a reply belongs to, preferring the
// In-Reply-To header and falling back to the References chain.
func matchReply(email models.Email, pending map[string]bool) string {
	if email.InReplyTo != "" && pending[email.InReplyTo] {
		return email.InReplyTo
	}
	for _, ref := range email.References {
		if pending[ref] {
			return ref
		}
	}
	return ""
}
