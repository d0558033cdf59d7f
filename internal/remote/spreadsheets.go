package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"financeflow/internal/core"

	"github.com/lib/pq"
)

// FetchSpreadsheets assembles the user's spreadsheets in three steps: the
// headers, then every column and row belonging to that set, joined in
// memory. Columns come back ordered by stored position; rows are flattened
// from their stored value blob. Short-circuits when the user owns no
// spreadsheets. Returns an empty collection when unauthenticated.
func (g *Gateway) FetchSpreadsheets(ctx context.Context) ([]core.Spreadsheet, error) {
	userID, err := g.userID()
	if err != nil {
		return nil, nil
	}

	headRows, err := g.db.QueryContext(ctx,
		`SELECT id, name, type, created_at
		 FROM spreadsheets
		 WHERE user_id = $1
		 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch spreadsheets: %w", err)
	}
	defer headRows.Close()

	var sheets []core.Spreadsheet
	var ids []string
	for headRows.Next() {
		var s core.Spreadsheet
		var createdAt time.Time
		if err := headRows.Scan(&s.ID, &s.Name, &s.Type, &createdAt); err != nil {
			return nil, fmt.Errorf("scan spreadsheet: %w", err)
		}
		s.CreatedAt = createdAt.Format(time.RFC3339)
		sheets = append(sheets, s)
		ids = append(ids, s.ID)
	}
	if err := headRows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	columns, err := g.fetchColumns(ctx, ids)
	if err != nil {
		return nil, err
	}
	rows, err := g.fetchRows(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i := range sheets {
		sheets[i].Columns = columns[sheets[i].ID]
		sheets[i].Rows = rows[sheets[i].ID]
	}
	return sheets, nil
}

type positionedColumn struct {
	position int
	column   core.SpreadsheetColumn
}

func (g *Gateway) fetchColumns(ctx context.Context, sheetIDs []string) (map[string][]core.SpreadsheetColumn, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT spreadsheet_id, key, label, type, options, position
		 FROM spreadsheet_columns
		 WHERE spreadsheet_id = ANY($1)`, pq.Array(sheetIDs))
	if err != nil {
		return nil, fmt.Errorf("fetch spreadsheet columns: %w", err)
	}
	defer rows.Close()

	bySheet := make(map[string][]positionedColumn)
	for rows.Next() {
		var (
			sheetID  string
			col      core.SpreadsheetColumn
			options  []byte
			position int
		)
		if err := rows.Scan(&sheetID, &col.Key, &col.Label, &col.Type, &options, &position); err != nil {
			return nil, fmt.Errorf("scan spreadsheet column: %w", err)
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &col.Options); err != nil {
				return nil, fmt.Errorf("decode column options: %w", err)
			}
		}
		bySheet[sheetID] = append(bySheet[sheetID], positionedColumn{position: position, column: col})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string][]core.SpreadsheetColumn, len(bySheet))
	for sheetID, cols := range bySheet {
		out[sheetID] = orderColumns(cols)
	}
	return out, nil
}

// orderColumns sorts by stored position; the fetch itself carries no ORDER BY.
func orderColumns(cols []positionedColumn) []core.SpreadsheetColumn {
	sort.Slice(cols, func(i, j int) bool { return cols[i].position < cols[j].position })
	ordered := make([]core.SpreadsheetColumn, len(cols))
	for i, pc := range cols {
		ordered[i] = pc.column
	}
	return ordered
}

func (g *Gateway) fetchRows(ctx context.Context, sheetIDs []string) (map[string][]core.SpreadsheetRow, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, spreadsheet_id, data
		 FROM spreadsheet_rows
		 WHERE spreadsheet_id = ANY($1)`, pq.Array(sheetIDs))
	if err != nil {
		return nil, fmt.Errorf("fetch spreadsheet rows: %w", err)
	}
	defer rows.Close()

	bySheet := make(map[string][]core.SpreadsheetRow)
	for rows.Next() {
		var (
			row     core.SpreadsheetRow
			sheetID string
			data    []byte
		)
		if err := rows.Scan(&row.ID, &sheetID, &data); err != nil {
			return nil, fmt.Errorf("scan spreadsheet row: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &row.Values); err != nil {
				return nil, fmt.Errorf("decode row data: %w", err)
			}
		}
		bySheet[sheetID] = append(bySheet[sheetID], row)
	}
	return bySheet, rows.Err()
}

// CreateSpreadsheet inserts the header and its columns, tagged with their
// array position, and returns the new identifier.
func (g *Gateway) CreateSpreadsheet(ctx context.Context, name string, typ core.SpreadsheetType, columns []core.SpreadsheetColumn) (string, error) {
	userID, err := g.userID()
	if err != nil {
		return "", err
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin create spreadsheet: %w", err)
	}
	defer tx.Rollback()

	id := NewID()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO spreadsheets (id, user_id, name, type) VALUES ($1, $2, $3, $4)`,
		id, userID, name, typ)
	if err != nil {
		return "", fmt.Errorf("insert spreadsheet: %w", err)
	}

	if err := insertColumns(ctx, tx, id, columns); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create spreadsheet: %w", err)
	}
	return id, nil
}

// RenameSpreadsheet updates the spreadsheet name.
func (g *Gateway) RenameSpreadsheet(ctx context.Context, id, name string) error {
	userID, err := g.userID()
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx,
		`UPDATE spreadsheets SET name = $1 WHERE id = $2 AND user_id = $3`,
		name, id, userID)
	if err != nil {
		return fmt.Errorf("rename spreadsheet: %w", err)
	}
	return nil
}

// DeleteSpreadsheet removes the spreadsheet; columns and rows cascade.
func (g *Gateway) DeleteSpreadsheet(ctx context.Context, id string) error {
	userID, err := g.userID()
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx,
		`DELETE FROM spreadsheets WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete spreadsheet: %w", err)
	}
	return nil
}

// UpsertColumns replaces the spreadsheet's whole column set: delete all,
// then reinsert with fresh positions. An empty set only deletes.
func (g *Gateway) UpsertColumns(ctx context.Context, spreadsheetID string, columns []core.SpreadsheetColumn) error {
	if _, err := g.userID(); err != nil {
		return err
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert columns: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM spreadsheet_columns WHERE spreadsheet_id = $1`, spreadsheetID); err != nil {
		return fmt.Errorf("delete columns: %w", err)
	}
	if err := insertColumns(ctx, tx, spreadsheetID, columns); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert columns: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertColumns bulk-inserts columns with position = array index.
func insertColumns(ctx context.Context, tx execer, spreadsheetID string, columns []core.SpreadsheetColumn) error {
	for idx, col := range columns {
		var options any
		if len(col.Options) > 0 {
			encoded, err := json.Marshal(col.Options)
			if err != nil {
				return fmt.Errorf("encode column options: %w", err)
			}
			options = encoded
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO spreadsheet_columns (id, spreadsheet_id, key, label, type, options, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			NewID(), spreadsheetID, col.Key, col.Label, col.Type, options, idx)
		if err != nil {
			return fmt.Errorf("insert column %q: %w", col.Key, err)
		}
	}
	return nil
}

// InsertRow stores the row's values as an opaque blob; the row identifier is
// kept out of the blob to avoid duplication.
func (g *Gateway) InsertRow(ctx context.Context, spreadsheetID string, row core.SpreadsheetRow) (string, error) {
	if _, err := g.userID(); err != nil {
		return "", err
	}

	id := row.ID
	if !isCanonicalID(id) {
		id = NewID()
	}
	data, err := json.Marshal(row.Values)
	if err != nil {
		return "", fmt.Errorf("encode row data: %w", err)
	}
	_, err = g.db.ExecContext(ctx,
		`INSERT INTO spreadsheet_rows (id, spreadsheet_id, data) VALUES ($1, $2, $3)`,
		id, spreadsheetID, data)
	if err != nil {
		return "", fmt.Errorf("insert row: %w", err)
	}
	return id, nil
}

// UpdateRow replaces the stored value blob of one row.
func (g *Gateway) UpdateRow(ctx context.Context, spreadsheetID, rowID string, values map[string]string) error {
	if _, err := g.userID(); err != nil {
		return err
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode row data: %w", err)
	}
	_, err = g.db.ExecContext(ctx,
		`UPDATE spreadsheet_rows SET data = $1 WHERE id = $2 AND spreadsheet_id = $3`,
		data, rowID, spreadsheetID)
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	return nil
}

// DeleteRow removes one row.
func (g *Gateway) DeleteRow(ctx context.Context, spreadsheetID, rowID string) error {
	if _, err := g.userID(); err != nil {
		return err
	}
	_, err := g.db.ExecContext(ctx,
		`DELETE FROM spreadsheet_rows WHERE id = $1 AND spreadsheet_id = $2`,
		rowID, spreadsheetID)
	if err != nil {
		return fmt.Errorf("delete row: %w", err)
	}
	return nil
}
