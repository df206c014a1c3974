package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"crm-automation/internal/models"
	"crm-automation/internal/services/sender"
)

// SendJob delivers tracked request emails that are booked but not yet sent.
type SendJob struct {
	deps *Deps
}

func NewSendJob(deps *Deps) *SendJob {
	return &SendJob{deps: deps}
}

func (j *SendJob) Name() string { return "send" }

func (j *SendJob) Run(ctx context.Context) error {
	d := j.deps

	messages, err := d.Store.UnsentMessages(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		d.Logger.Info("No messages waiting to be sent")
		return nil
	}

	creds, err := d.Vault.Credentials(ctx)
	if err != nil {
		return err
	}
	passwords := make(map[string]string, len(creds))
	for _, c := range creds {
		passwords[c.Email] = c.Password
	}

	mailer := sender.NewMailer(d.Config.SMTP, d.Logger)
	builder, err := newRequestBuilder(d)
	if err != nil {
		return err
	}

	var sent, failed int
	for _, m := range messages {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		subject := "Запрос КП: " + m.DealTitle
		if err := j.sendOne(ctx, mailer, builder, passwords, m, subject, m.MsgID); err != nil {
			failed++
			d.Logger.Error("Failed to send tracked message",
				zap.String("msg_id", m.MsgID),
				zap.String("receiver", m.Receiver),
				zap.Error(err))
			continue
		}
		sent++
	}

	d.Notifier.JobDone(j.Name(), fmt.Sprintf("отправлено: %d, ошибок: %d", sent, failed))
	if sent == 0 && failed > 0 {
		return fmt.Errorf("all %d sends failed", failed)
	}
	return nil
}

// newRequestBuilder builds request emails with the attachment required: a
// booked request whose deal document never arrived must fail the build
// instead of going out without its spreadsheet.
func newRequestBuilder(d *Deps) (*sender.Builder, error) {
	return sender.NewBuilder(d.Config.Sender, true, d.Logger)
}

func (j *SendJob) sendOne(ctx context.Context, mailer *sender.Mailer, builder *sender.Builder, passwords map[string]string, m models.TrackedMessage, subject, msgID string) error {
	d := j.deps

	password, ok := passwords[m.Sender]
	if !ok {
		return fmt.Errorf("no password for sender %s", m.Sender)
	}

	employee, err := d.Store.EmployeeInfo(ctx, m.Sender)
	if err != nil {
		return err
	}

	var attachment []byte
	if m.DocID != 0 {
		attachment, err = d.Store.FileContent(ctx, m.DocID)
		if err != nil {
			return err
		}
	}

	values := sender.Values{
		MsgID:       msgID,
		Subject:     subject,
		Sender:      m.Sender,
		Receiver:    m.Receiver,
		ContactName: m.ContactName,
		Deadline:    m.Deadline,
		Employee:    employee,
	}

	msg, err := builder.Build(values, attachment)
	if err != nil {
		return err
	}
	if err := mailer.Send(msg, password); err != nil {
		return err
	}

	return d.Store.MarkSent(ctx, m.MsgID, msg.HTMLBody)
}
