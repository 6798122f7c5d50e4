package google

import (
	"context"
	"fmt"

	"github.com/StorX2-0/Share-Tools/engine"
	"github.com/StorX2-0/Share-Tools/pkg/monitor"
	"google.golang.org/api/sheets/v4"
)

// ListSheets returns the titles and IDs of every sheet in the document.
func (c *Client) ListSheets(ctx context.Context, spreadsheetID string) (infos []engine.SheetInfo, err error) {
	defer monitor.Mon.Task()(&ctx)(&err)

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	doc, err := c.sheets.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties(title,sheetId)").
		Context(callCtx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get spreadsheet %s: %w", spreadsheetID, err)
	}

	infos = make([]engine.SheetInfo, 0, len(doc.Sheets))
	for _, s := range doc.Sheets {
		if s.Properties == nil {
			continue
		}
		infos = append(infos, engine.SheetInfo{
			Title:   s.Properties.Title,
			SheetID: s.Properties.SheetId,
		})
	}
	return infos, nil
}

// BatchWriteCells applies all cell updates to the named sheet in a single
// values batch update. The call is atomic from the engine's perspective:
// either the service accepts all updates or the call fails and the engine
// retries from history on the next run.
func (c *Client) BatchWriteCells(ctx context.Context, spreadsheetID, sheetTitle string, updates []engine.CellUpdate) (err error) {
	defer monitor.Mon.Task()(&ctx)(&err)

	if len(updates) == 0 {
		return nil
	}

	data := make([]*sheets.ValueRange, 0, len(updates))
	for _, u := range updates {
		data = append(data, &sheets.ValueRange{
			Range:  fmt.Sprintf("%s!%s", sheetTitle, u.Range),
			Values: [][]interface{}{{u.Value}},
		})
	}

	// Batch writes cover many cells; give them more room than a single call.
	callCtx, cancel := context.WithTimeout(ctx, 2*callTimeout)
	defer cancel()

	_, err = c.sheets.Spreadsheets.Values.BatchUpdate(spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(callCtx).Do()
	if err != nil {
		return fmt.Errorf("batch update of %d cells failed: %w", len(updates), err)
	}
	return nil
}

var _ engine.RemoteClient = (*Client)(nil)
