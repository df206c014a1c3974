package jobs

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const defaultHotDeadlineHours = 48

// HotDealsJob alerts the ops chat about open deals approaching their
// deadline.
type HotDealsJob struct {
	deps *Deps
}

func NewHotDealsJob(deps *Deps) *HotDealsJob {
	return &HotDealsJob{deps: deps}
}

func (j *HotDealsJob) Name() string { return "hotdeals" }

func (j *HotDealsJob) Run(ctx context.Context) error {
	d := j.deps

	ids, err := d.Store.DealIDs(ctx)
	if err != nil {
		d.Notifier.JobFailed(j.Name(), err)
		return err
	}
	if len(ids) == 0 {
		d.Logger.Info("No deals to check")
		return nil
	}

	hours := d.Config.Jobs.HotDeadlineHours
	if hours <= 0 {
		hours = defaultHotDeadlineHours
	}

	hot, err := d.Store.HotDeals(ctx, ids, hours)
	if err != nil {
		d.Notifier.JobFailed(j.Name(), err)
		return err
	}
	if len(hot) == 0 {
		d.Logger.Info("No hot deals", zap.Int("deadline_hours", hours))
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔥 Сделки с дедлайном ближе %d ч:\n", hours))
	for _, deal := range hot {
		sb.WriteString(fmt.Sprintf("• *%s* (ответственный: %s)\n",
			deal.Title, deal.WhoCreated))
	}

	if err := d.Notifier.Notify(sb.String()); err != nil {
		return err
	}
	d.Logger.Info("Hot deal alert sent", zap.Int("deals", len(hot)))
	return nil
}
