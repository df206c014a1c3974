package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"crm-automation/internal/models"
	"crm-automation/internal/services/sender"
)

// BookJob matches every open deal that has no tracked messages yet against
// the contractor base and books one request message per matching company.
// The send job picks the booked messages up on its next run.
type BookJob struct {
	deps *Deps
}

func NewBookJob(deps *Deps) *BookJob {
	return &BookJob{deps: deps}
}

func (j *BookJob) Name() string { return "book" }

func (j *BookJob) Run(ctx context.Context) error {
	d := j.deps

	from := d.Config.Jobs.BookSender
	if from == "" {
		return fmt.Errorf("book sender is not configured")
	}

	deals, err := d.Store.UnbookedDeals(ctx)
	if err != nil {
		d.Notifier.JobFailed(j.Name(), err)
		return err
	}
	if len(deals) == 0 {
		d.Logger.Info("No deals waiting for booking")
		return nil
	}

	var booked, skipped int
	for _, deal := range deals {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		count, err := j.bookDeal(ctx, deal, from)
		if err != nil {
			d.Notifier.JobFailed(j.Name(), err)
			return err
		}
		if count == 0 {
			skipped++
			d.Logger.Warn("No contractors match deal",
				zap.Int64("deal_id", deal.ID), zap.String("title", deal.Title))
			continue
		}
		booked += count
	}

	d.Notifier.JobDone(j.Name(),
		fmt.Sprintf("заявок: %d, сделок без подрядчиков: %d", booked, skipped))
	return nil
}

func (j *BookJob) bookDeal(ctx context.Context, deal models.Deal, from string) (int, error) {
	d := j.deps

	contractors, err := d.Store.FindContractors(ctx, deal.TypeDeal, deal.TypeNmn, deal.Regions)
	if err != nil {
		return 0, err
	}

	booked := 0
	for _, c := range contractors {
		if c.ContactEmail == "" {
			d.Logger.Warn("Contractor has no contact email",
				zap.Int64("company_id", c.CompanyID))
			continue
		}

		msg := models.TrackedMessage{
			MsgID:       sender.NewMessageID(d.Config.Sender.MessageIDDomain),
			DealID:      deal.ID,
			Sender:      from,
			CompanyID:   c.CompanyID,
			Receiver:    c.ContactEmail,
			ContactName: c.ContactName,
			DocID:       deal.DocID,
			Deadline:    deal.Deadline,
		}
		if err := d.Store.CreateMessage(ctx, msg); err != nil {
			return booked, err
		}
		booked++

		d.Logger.Info("Request booked",
			zap.Int64("deal_id", deal.ID),
			zap.Int64("company_id", c.CompanyID),
			zap.String("msg_id", msg.MsgID))
	}
	return booked, nil
}
