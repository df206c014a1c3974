package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"crm-automation/internal/services/sender"
)

// ResendJob reminds contractors about requests that crossed the midpoint to
// their deadline without an answer. Each tracked message is reminded at most
// once.
type ResendJob struct {
	deps *Deps
}

func NewResendJob(deps *Deps) *ResendJob {
	return &ResendJob{deps: deps}
}

func (j *ResendJob) Name() string { return "resend" }

func (j *ResendJob) Run(ctx context.Context) error {
	d := j.deps

	candidates, err := d.Store.ResendCandidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		d.Logger.Info("No messages due for a reminder")
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
	builder, err := sender.NewBuilder(d.Config.Sender, false, d.Logger)
	if err != nil {
		return err
	}

	var sent, failed int
	for _, m := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		password, ok := passwords[m.Sender]
		if !ok {
			failed++
			d.Logger.Error("No password for sender", zap.String("sender", m.Sender))
			continue
		}

		employee, err := d.Store.EmployeeInfo(ctx, m.Sender)
		if err != nil {
			return err
		}

		// The reminder goes out as a fresh message; the reply still matches
		// the original tracked msg_id through the quoted thread.
		values := sender.Values{
			Subject:     "Напоминание: " + m.DealTitle,
			Sender:      m.Sender,
			Receiver:    m.Receiver,
			ContactName: m.ContactName,
			Deadline:    m.Deadline,
			Employee:    employee,
		}

		msg, err := builder.Build(values, nil)
		if err != nil {
			failed++
			d.Logger.Error("Failed to build reminder",
				zap.String("msg_id", m.MsgID), zap.Error(err))
			continue
		}
		if err := mailer.Send(msg, password); err != nil {
			failed++
			d.Logger.Error("Failed to send reminder",
				zap.String("msg_id", m.MsgID), zap.Error(err))
			continue
		}
		if err := d.Store.MarkResent(ctx, m.MsgID, msg.HTMLBody); err != nil {
			return err
		}
		sent++
	}

	d.Notifier.JobDone(j.Name(), fmt.Sprintf("напоминаний: %d, ошибок: %d", sent, failed))
	return nil
}
