// Package sheets writes committed snapshots and run records to a Google
// spreadsheet.
package sheets

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/kalambet/feedsync/internal/auth"
	"github.com/kalambet/feedsync/internal/feed"
	"github.com/kalambet/feedsync/internal/retry"
	"github.com/kalambet/feedsync/internal/storage"
)

// Config names the worksheets written to.
type Config struct {
	Worksheet    string
	LogWorksheet string
	Header       [3]string
	Policy       retry.Policy
}

// DefaultConfig matches the layout operations staff already use.
func DefaultConfig() Config {
	return Config{
		Worksheet:    "Sheet1",
		LogWorksheet: "Log",
		Header:       [3]string{"PartNumber", "PartDescription", "TotalQOH"},
		Policy:       retry.DefaultPolicy(),
	}
}

// LogHeader is the first row of the log worksheet.
var LogHeader = []any{"Upload Time", "Message ID", "Rows", "Sheet Range", "Status", "TotalQOH", "Change from Previous Day", "Detail"}

// Client writes to the Sheets API.
type Client struct {
	svc *gsheets.Service
	cfg Config
}

// New creates a Client. opts usually carry option.WithTokenSource.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Client, error) {
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}
	if cfg.Policy.Attempts == 0 {
		cfg.Policy = retry.DefaultPolicy()
	}
	return &Client{svc: svc, cfg: cfg}, nil
}

// WriteRows replaces the worksheet contents with a header and rows. The
// new block is written first and stale rows below it are cleared after, so
// the sheet never sits empty between the two calls.
func (c *Client) WriteRows(ctx context.Context, sheetID string, rows []feed.Row) error {
	values := make([][]any, 0, len(rows)+1)
	values = append(values, []any{c.cfg.Header[0], c.cfg.Header[1], c.cfg.Header[2]})
	for _, r := range rows {
		values = append(values, []any{r.SKU, r.Description, r.Quantity})
	}

	target := fmt.Sprintf("%s!A1", c.cfg.Worksheet)
	err := c.cfg.Policy.Do(ctx, "sheet write", func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.Values.Update(sheetID, target, &gsheets.ValueRange{Values: values}).
			ValueInputOption("RAW").Context(ctx).Do()
		return auth.Classify(err)
	})
	if err != nil {
		return fmt.Errorf("writing %d rows to %s: %w", len(rows), c.cfg.Worksheet, err)
	}

	stale := fmt.Sprintf("%s!A%d:Z", c.cfg.Worksheet, len(values)+1)
	err = c.cfg.Policy.Do(ctx, "sheet clear", func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.Values.Clear(sheetID, stale, &gsheets.ClearValuesRequest{}).Context(ctx).Do()
		return auth.Classify(err)
	})
	if err != nil {
		return fmt.Errorf("clearing stale rows %s: %w", stale, err)
	}

	slog.Info("sheet written", "worksheet", c.cfg.Worksheet, "rows", len(rows))
	return nil
}

// DataRange returns the A1 range the data rows occupy, e.g. "A2:C41".
func DataRange(rows int) string {
	return fmt.Sprintf("A2:C%d", rows+1)
}

// AppendLog mirrors rec as one row of the log worksheet, creating the
// worksheet with its header on first use.
func (c *Client) AppendLog(ctx context.Context, sheetID string, rec storage.RunRecord) error {
	if err := c.ensureLogSheet(ctx, sheetID); err != nil {
		return err
	}

	row := LogRow(rec)
	target := fmt.Sprintf("%s!A1", c.cfg.LogWorksheet)
	err := c.cfg.Policy.Do(ctx, "log append", func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.Values.Append(sheetID, target, &gsheets.ValueRange{Values: [][]any{row}}).
			ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		return auth.Classify(err)
	})
	if err != nil {
		return fmt.Errorf("appending log row: %w", err)
	}
	return nil
}

// LogRow renders rec in LogHeader column order.
func LogRow(rec storage.RunRecord) []any {
	var rows, sheetRange, total, change any = "", "", "", ""
	if rec.Counts != nil {
		rows = rec.Counts.Imported
		sheetRange = DataRange(rec.Counts.Imported)
	}
	if rec.TotalQuantity != nil {
		total = *rec.TotalQuantity
	}
	if rec.QuantityChange != nil {
		change = *rec.QuantityChange
	}
	return []any{
		rec.Timestamp.Format("2006-01-02 03:04 PM"),
		rec.MessageID,
		rows,
		sheetRange,
		string(rec.Status),
		total,
		change,
		rec.Error,
	}
}

func (c *Client) ensureLogSheet(ctx context.Context, sheetID string) error {
	ss, err := retry.Value(ctx, c.cfg.Policy, "spreadsheet get", func(ctx context.Context) (*gsheets.Spreadsheet, error) {
		s, err := c.svc.Spreadsheets.Get(sheetID).Fields("sheets.properties.title").Context(ctx).Do()
		return s, auth.Classify(err)
	})
	if err != nil {
		return fmt.Errorf("reading spreadsheet %s: %w", sheetID, err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == c.cfg.LogWorksheet {
			return nil
		}
	}

	err = c.cfg.Policy.Do(ctx, "add log sheet", func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.BatchUpdate(sheetID, &gsheets.BatchUpdateSpreadsheetRequest{
			Requests: []*gsheets.Request{{
				AddSheet: &gsheets.AddSheetRequest{Properties: &gsheets.SheetProperties{Title: c.cfg.LogWorksheet}},
			}},
		}).Context(ctx).Do()
		return auth.Classify(err)
	})
	if err != nil {
		return fmt.Errorf("creating %s worksheet: %w", c.cfg.LogWorksheet, err)
	}

	target := fmt.Sprintf("%s!A1", c.cfg.LogWorksheet)
	return c.cfg.Policy.Do(ctx, "log header", func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.Values.Update(sheetID, target, &gsheets.ValueRange{Values: [][]any{LogHeader}}).
			ValueInputOption("RAW").Context(ctx).Do()
		return auth.Classify(err)
	})
}
