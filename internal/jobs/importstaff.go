package jobs

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// ImportStaffJob loads manager credentials from the staff CSV, encrypting
// passwords before they reach the database. The file is wiped afterwards.
type ImportStaffJob struct {
	deps *Deps
}

func NewImportStaffJob(deps *Deps) *ImportStaffJob {
	return &ImportStaffJob{deps: deps}
}

func (j *ImportStaffJob) Name() string { return "importstaff" }

func (j *ImportStaffJob) Run(ctx context.Context) error {
	d := j.deps

	path := d.Config.Jobs.StaffCSV
	if path == "" {
		return fmt.Errorf("staff csv path is not configured")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("staff csv: %w", err)
	}

	if err := d.Vault.ImportCSV(ctx, path); err != nil {
		d.Notifier.JobFailed(j.Name(), err)
		return err
	}

	d.Logger.Info("Staff credentials imported", zap.String("path", path))
	d.Notifier.JobDone(j.Name(), "учётные записи обновлены")
	return nil
}
