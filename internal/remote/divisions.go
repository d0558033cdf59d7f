package remote

import (
	"context"
	"fmt"

	"financeflow/internal/core"
)

// FetchDivisions returns the user's capital divisions ordered by creation
// time. Returns an empty collection when unauthenticated.
func (g *Gateway) FetchDivisions(ctx context.Context) ([]core.CapitalDivision, error) {
	userID, err := g.userID()
	if err != nil {
		return nil, nil
	}

	rows, err := g.db.QueryContext(ctx,
		`SELECT id, name, percentage, color
		 FROM capital_divisions
		 WHERE user_id = $1
		 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch divisions: %w", err)
	}
	defer rows.Close()

	var divisions []core.CapitalDivision
	for rows.Next() {
		var d core.CapitalDivision
		if err := rows.Scan(&d.ID, &d.Name, &d.Percentage, &d.Color); err != nil {
			return nil, fmt.Errorf("scan division: %w", err)
		}
		divisions = append(divisions, d)
	}
	return divisions, rows.Err()
}

// UpsertDivisions inserts or updates divisions by identifier. Identifiers
// that do not have the canonical shape are treated as new rows and get a
// generated one.
func (g *Gateway) UpsertDivisions(ctx context.Context, divisions []core.CapitalDivision) error {
	userID, err := g.userID()
	if err != nil {
		return err
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert divisions: %w", err)
	}
	defer tx.Rollback()

	for _, d := range divisions {
		id := d.ID
		if !isCanonicalID(id) {
			id = NewID()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO capital_divisions (id, user_id, name, percentage, color)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE
			 SET name = EXCLUDED.name,
			     percentage = EXCLUDED.percentage,
			     color = EXCLUDED.color`,
			id, userID, d.Name, d.Percentage, d.Color)
		if err != nil {
			return fmt.Errorf("upsert division %q: %w", d.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert divisions: %w", err)
	}
	return nil
}
