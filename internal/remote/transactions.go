package remote

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"financeflow/internal/core"
)

// FetchTransactions returns all of the user's transactions, newest first.
// Returns an empty collection when unauthenticated.
func (g *Gateway) FetchTransactions(ctx context.Context) ([]core.Transaction, error) {
	userID, err := g.userID()
	if err != nil {
		return nil, nil
	}

	rows, err := g.db.QueryContext(ctx,
		`SELECT id, type, amount, description, category, date, is_recurring, due_date, status
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY date DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	defer rows.Close()

	var transactions []core.Transaction
	for rows.Next() {
		var (
			t       core.Transaction
			date    time.Time
			dueDate sql.NullTime
			status  sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Kind, &t.Amount, &t.Description,
			&t.Category, &date, &t.IsRecurring, &dueDate, &status); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Date = core.DateOf(date)
		if dueDate.Valid {
			t.DueDate = core.DateOf(dueDate.Time)
		}
		if status.Valid {
			t.Status = core.TransactionStatus(status.String)
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// AddTransaction inserts one transaction row for the current user.
func (g *Gateway) AddTransaction(ctx context.Context, t core.Transaction) error {
	userID, err := g.userID()
	if err != nil {
		return err
	}

	id := t.ID
	if !isCanonicalID(id) {
		id = NewID()
	}

	var dueDate, status any
	if !t.DueDate.IsEmpty() {
		dueDate = t.DueDate.String()
	}
	if t.Status != "" {
		status = string(t.Status)
	}

	_, err = g.db.ExecContext(ctx,
		`INSERT INTO transactions
		 (id, user_id, type, amount, description, category, date, is_recurring, due_date, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, userID, t.Kind, t.Amount, t.Description, t.Category,
		t.Date.String(), t.IsRecurring, dueDate, status)
	if err != nil {
		return fmt.Errorf("add transaction: %w", err)
	}
	return nil
}
