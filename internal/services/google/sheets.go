package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/sheets/v4"
)

// AppendRows appends rows to a spreadsheet range. Values are normalized
// first: times become ISO strings and slices are joined, since the Sheets
// API only takes scalars.
func (s *Service) AppendRows(ctx context.Context, spreadsheetID, rangeName string, rows [][]any) error {
	if spreadsheetID == "" || rangeName == "" {
		return fmt.Errorf("spreadsheet id and range are required")
	}

	values := make([][]any, len(rows))
	for i, row := range rows {
		normalized := make([]any, len(row))
		for j, cell := range row {
			normalized[j] = normalizeCell(cell)
		}
		values[i] = normalized
	}

	body := &sheets.ValueRange{Values: values}
	err := s.withRetry(ctx, "append rows", func() error {
		_, err := s.sheets.Spreadsheets.Values.Append(spreadsheetID, rangeName, body).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("Appended rows to spreadsheet",
		zap.String("spreadsheet_id", spreadsheetID),
		zap.String("range", rangeName),
		zap.Int("rows", len(rows)))
	return nil
}

// ClearRange wipes a spreadsheet range, e.g. "Sheet1!A2:Z".
func (s *Service) ClearRange(ctx context.Context, spreadsheetID, rangeName string) error {
	if spreadsheetID == "" || rangeName == "" {
		return fmt.Errorf("spreadsheet id and range are required")
	}

	err := s.withRetry(ctx, "clear range", func() error {
		_, err := s.sheets.Spreadsheets.Values.Clear(spreadsheetID, rangeName, &sheets.ClearValuesRequest{}).
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("Cleared spreadsheet range",
		zap.String("spreadsheet_id", spreadsheetID),
		zap.String("range", rangeName))
	return nil
}

// SheetValues reads a spreadsheet range.
func (s *Service) SheetValues(ctx context.Context, spreadsheetID, rangeName string) ([][]any, error) {
	var result *sheets.ValueRange
	err := s.withRetry(ctx, "read range", func() error {
		var err error
		result, err = s.sheets.Spreadsheets.Values.Get(spreadsheetID, rangeName).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return result.Values, nil
}

func normalizeCell(cell any) any {
	switch v := cell.(type) {
	case time.Time:
		return v.Format(time.RFC3339)
	case []string:
		return strings.Join(v, " ")
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, " ")
	case nil:
		return ""
	default:
		return v
	}
}
