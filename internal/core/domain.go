package core

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Income  TransactionKind = "income"
	Expense TransactionKind = "expense"

	StatusPending TransactionStatus = "pending"
	StatusPaid    TransactionStatus = "paid"
	StatusOverdue TransactionStatus = "overdue"

	SheetInvestments SpreadsheetType = "investments"
	SheetIncome      SpreadsheetType = "income"
	SheetExpenses    SpreadsheetType = "expenses"

	ColumnText   ColumnType = "text"
	ColumnNumber ColumnType = "number"
	ColumnDate   ColumnType = "date"
	ColumnSelect ColumnType = "select"
)

type (
	TransactionKind   string
	TransactionStatus string
	SpreadsheetType   string
	ColumnType        string

	// Transaction is a single income or expense entry. DueDate and Status
	// are only meaningful for expenses.
	Transaction struct {
		ID          string            `json:"id"`
		Kind        TransactionKind   `json:"type"`
		Amount      float64           `json:"amount"`
		Description string            `json:"description"`
		Category    string            `json:"category"`
		Date        Date              `json:"date"`
		IsRecurring bool              `json:"isRecurring"`
		DueDate     Date              `json:"dueDate,omitempty"`
		Status      TransactionStatus `json:"status,omitempty"`
	}

	// CapitalDivision is a named percentage bucket describing how income
	// should be allocated. Amount is derived from the current total income
	// and is never persisted as authoritative.
	CapitalDivision struct {
		ID         string  `json:"id"`
		Name       string  `json:"name"`
		Percentage float64 `json:"percentage"`
		Amount     float64 `json:"amount"`
		Color      string  `json:"color"`
	}

	// SpreadsheetColumn describes one column of a spreadsheet. Key is the
	// stable identifier used as the row value key; Options applies to
	// select columns only.
	SpreadsheetColumn struct {
		Key     string     `json:"key"`
		Label   string     `json:"label"`
		Type    ColumnType `json:"type"`
		Options []string   `json:"options,omitempty"`
	}

	// SpreadsheetRow maps column keys to string values. Values are stored
	// as text regardless of the declared column type; numeric and date
	// interpretation happens at read time.
	SpreadsheetRow struct {
		ID     string            `json:"id"`
		Values map[string]string `json:"values"`
	}

	// Spreadsheet is a user-defined table of a fixed thematic type but
	// editable schema. Column order is significant.
	Spreadsheet struct {
		ID        string              `json:"id"`
		Name      string              `json:"name"`
		Type      SpreadsheetType     `json:"type"`
		Columns   []SpreadsheetColumn `json:"columns"`
		Rows      []SpreadsheetRow    `json:"rows"`
		CreatedAt string              `json:"createdAt"`
	}
)

var (
	ErrInvalidKind        = errors.New("invalid transaction kind")
	ErrInvalidAmount      = errors.New("amount must not be negative")
	ErrInvalidStatus      = errors.New("invalid transaction status")
	ErrInvalidPercentage  = errors.New("percentage must be between 0 and 100")
	ErrInvalidSheetType   = errors.New("invalid spreadsheet type")
	ErrInvalidColumnType  = errors.New("invalid column type")
	ErrEmptyColumnKey     = errors.New("empty column key")
	ErrDuplicateColumnKey = errors.New("duplicate column key")
)

func (k TransactionKind) IsValid() bool {
	return k == Income || k == Expense
}

func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusOverdue:
		return true
	default:
		return false
	}
}

func (t SpreadsheetType) IsValid() bool {
	switch t {
	case SheetInvestments, SheetIncome, SheetExpenses:
		return true
	default:
		return false
	}
}

func (c ColumnType) IsValid() bool {
	switch c {
	case ColumnText, ColumnNumber, ColumnDate, ColumnSelect:
		return true
	default:
		return false
	}
}

func (t Transaction) Validate() error {
	if !t.Kind.IsValid() {
		return ErrInvalidKind
	}
	if t.Amount < 0 {
		return ErrInvalidAmount
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if t.Status != "" && !t.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

func (d CapitalDivision) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("empty division name")
	}
	if d.Percentage < 0 || d.Percentage > 100 {
		return ErrInvalidPercentage
	}
	return nil
}

func (s Spreadsheet) Validate() error {
	if !s.Type.IsValid() {
		return ErrInvalidSheetType
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, col := range s.Columns {
		if strings.TrimSpace(col.Key) == "" {
			return ErrEmptyColumnKey
		}
		if !col.Type.IsValid() {
			return ErrInvalidColumnType
		}
		if seen[col.Key] {
			return fmt.Errorf("%w: %s", ErrDuplicateColumnKey, col.Key)
		}
		seen[col.Key] = true
	}
	return nil
}

// ValidateRow checks a row against the spreadsheet's column schema. Orphan
// keys are tolerated at storage time and ignored by rendering; this check is
// advisory, for callers that want to reject them at write time.
func (s Spreadsheet) ValidateRow(row SpreadsheetRow) error {
	keys := make(map[string]bool, len(s.Columns))
	for _, col := range s.Columns {
		keys[col.Key] = true
	}
	for k := range row.Values {
		if !keys[k] {
			return fmt.Errorf("row value key %q does not match any column", k)
		}
	}
	return nil
}

// DivisionPercentageSum returns the sum of all division percentages. The set
// is not required to sum to 100; callers use this to surface a warning.
func DivisionPercentageSum(divisions []CapitalDivision) float64 {
	var sum float64
	for _, d := range divisions {
		sum += d.Percentage
	}
	return sum
}

// AllocateDivisions returns a copy of divisions with each Amount derived from
// the given total income.
func AllocateDivisions(divisions []CapitalDivision, totalIncome float64) []CapitalDivision {
	out := make([]CapitalDivision, len(divisions))
	for i, d := range divisions {
		d.Amount = totalIncome * d.Percentage / 100
		out[i] = d
	}
	return out
}

// DefaultDivisions returns the seed allocation used when no divisions have
// been saved yet.
func DefaultDivisions() []CapitalDivision {
	return []CapitalDivision{
		{ID: "1", Name: "Essential Expenses", Percentage: 50, Color: "#10B981"},
		{ID: "2", Name: "Savings", Percentage: 20, Color: "#3B82F6"},
		{ID: "3", Name: "Investments", Percentage: 20, Color: "#8B5CF6"},
		{ID: "4", Name: "Leisure", Percentage: 10, Color: "#F59E0B"},
	}
}

// DefaultColumns returns the starter column schema for a spreadsheet type.
// The schema is only a default; users can edit it afterwards.
func DefaultColumns(t SpreadsheetType) []SpreadsheetColumn {
	switch t {
	case SheetInvestments:
		return []SpreadsheetColumn{
			{Key: "asset", Label: "Asset", Type: ColumnText},
			{Key: "quantity", Label: "Quantity", Type: ColumnNumber},
			{Key: "avgPrice", Label: "Average Price", Type: ColumnNumber},
			{Key: "purchaseDate", Label: "Purchase Date", Type: ColumnDate},
			{Key: "yield", Label: "Yield (%)", Type: ColumnNumber},
		}
	case SheetIncome:
		return []SpreadsheetColumn{
			{Key: "source", Label: "Source", Type: ColumnText},
			{Key: "amount", Label: "Amount", Type: ColumnNumber},
			{Key: "date", Label: "Date", Type: ColumnDate},
			{Key: "category", Label: "Category", Type: ColumnSelect,
				Options: []string{"Salary", "Freelance", "Investments", "Sales", "Other"}},
			{Key: "notes", Label: "Notes", Type: ColumnText},
		}
	case SheetExpenses:
		return []SpreadsheetColumn{
			{Key: "description", Label: "Description", Type: ColumnText},
			{Key: "amount", Label: "Amount", Type: ColumnNumber},
			{Key: "dueDate", Label: "Due Date", Type: ColumnDate},
			{Key: "status", Label: "Status", Type: ColumnSelect,
				Options: []string{"Pending", "Paid", "Overdue"}},
			{Key: "category", Label: "Category", Type: ColumnSelect,
				Options: []string{"Housing", "Food", "Transport", "Health", "Education", "Leisure", "Other"}},
		}
	default:
		return nil
	}
}
