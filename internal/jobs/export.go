package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

var exportHeader = []any{"Сделка", "Тип сделки", "Номенклатура", "Срок",
	"Компания", "Контакт", "Email", "Регионы"}

// ExportJob rewrites the shared spreadsheet from the active deal/contractor
// pairs in the database.
type ExportJob struct {
	deps *Deps
}

func NewExportJob(deps *Deps) *ExportJob {
	return &ExportJob{deps: deps}
}

func (j *ExportJob) Name() string { return "export" }

func (j *ExportJob) Run(ctx context.Context) error {
	d := j.deps

	rows, err := d.Store.ExportRows(ctx)
	if err != nil {
		d.Notifier.JobFailed(j.Name(), err)
		return err
	}

	sheet := make([][]any, 0, len(rows)+1)
	sheet = append(sheet, exportHeader)
	for _, r := range rows {
		sheet = append(sheet, []any{
			r.DealTitle,
			r.TypeDeal,
			r.TypeNmn,
			r.Deadline.Format("02-01-2006"),
			r.CompanyName,
			r.ContactName,
			r.ContactEmail,
			r.Regions,
		})
	}

	spreadsheetID := d.Config.Google.SpreadsheetID
	rangeName := d.Config.Google.SheetRange
	previous, err := d.Google.SheetValues(ctx, spreadsheetID, rangeName)
	if err != nil {
		d.Notifier.JobFailed(j.Name(), err)
		return err
	}
	d.Logger.Info("Replacing export range",
		zap.Int("previous_rows", len(previous)), zap.Int("new_rows", len(rows)))

	if err := d.Google.ClearRange(ctx, spreadsheetID, rangeName); err != nil {
		d.Notifier.JobFailed(j.Name(), err)
		return err
	}
	if err := d.Google.AppendRows(ctx, spreadsheetID, rangeName, sheet); err != nil {
		d.Notifier.JobFailed(j.Name(), err)
		return err
	}

	d.Logger.Info("Export finished", zap.Int("rows", len(rows)))
	d.Notifier.JobDone(j.Name(), fmt.Sprintf("строк выгружено: %d", len(rows)))
	return nil
}
