// Package core holds the domain model and the pure aggregation functions
// computed over it. Nothing in this package performs I/O or mutates its
// inputs.
package core

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SheetTotals are lifetime sums derived from the spreadsheet collections.
type SheetTotals struct {
	Income            float64
	Expenses          float64
	InvestmentReturns float64
}

// DashboardData is the top-level summary shown on the dashboard.
type DashboardData struct {
	TotalIncome   float64 `json:"totalIncome"`
	TotalExpenses float64 `json:"totalExpenses"`
	Balance       float64 `json:"balance"`
	PendingBills  float64 `json:"pendingBills"`
	OverdueCount  int     `json:"overdueCount"`
}

// MonthPoint is one entry of the monthly income/expense series.
type MonthPoint struct {
	Year     int        `json:"year"`
	Month    time.Month `json:"month"`
	Income   float64    `json:"income"`
	Expenses float64    `json:"expenses"`
	Balance  float64    `json:"balance"`
}

// ParseAmount converts a free-form cell value to a float64. It takes the
// longest numeric prefix, so "10" and "10.5x" both parse; anything without a
// numeric prefix yields 0. ParseFloat also accepts "NaN" and "Inf", which
// would poison every downstream sum, so non-finite results count as
// unparseable. It never fails.
func ParseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil && isFinite(v) {
		return v
	}
	for i := len(s) - 1; i > 0; i-- {
		if v, err := strconv.ParseFloat(s[:i], 64); err == nil && isFinite(v) {
			return v
		}
	}
	return 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SpreadsheetTotals sums the amount column of income and expenses sheets and
// the per-row quantity x avgPrice x yield / 100 of investments sheets.
// Totals are lifetime, not month-filtered.
func SpreadsheetTotals(sheets []Spreadsheet) SheetTotals {
	var totals SheetTotals
	for _, sheet := range sheets {
		switch sheet.Type {
		case SheetIncome:
			for _, row := range sheet.Rows {
				totals.Income += ParseAmount(row.Values["amount"])
			}
		case SheetExpenses:
			for _, row := range sheet.Rows {
				totals.Expenses += ParseAmount(row.Values["amount"])
			}
		case SheetInvestments:
			for _, row := range sheet.Rows {
				quantity := ParseAmount(row.Values["quantity"])
				avgPrice := ParseAmount(row.Values["avgPrice"])
				yieldPercent := ParseAmount(row.Values["yield"])
				totals.InvestmentReturns += quantity * avgPrice * yieldPercent / 100
			}
		}
	}
	return totals
}

// InvestmentValue returns the invested value of a single investments row,
// quantity x avgPrice.
func InvestmentValue(row SpreadsheetRow) float64 {
	return ParseAmount(row.Values["quantity"]) * ParseAmount(row.Values["avgPrice"])
}

// Dashboard computes the dashboard summary. Transaction sums are restricted
// to the calendar month of now; spreadsheet totals are lifetime (a known
// asymmetry, kept as-is). Pending bills and the overdue count consider all
// expense transactions regardless of month.
func Dashboard(transactions []Transaction, sheets []Spreadsheet, now time.Time) DashboardData {
	sheetTotals := SpreadsheetTotals(sheets)

	var monthIncome, monthExpenses float64
	for _, t := range transactions {
		if !t.Date.SameMonth(now.Year(), now.Month()) {
			continue
		}
		switch t.Kind {
		case Income:
			monthIncome += t.Amount
		case Expense:
			monthExpenses += t.Amount
		}
	}

	var pendingBills float64
	overdueCount := 0
	for _, t := range transactions {
		if t.Kind != Expense {
			continue
		}
		if t.Status == StatusPending {
			pendingBills += t.Amount
		}
		if !t.DueDate.IsEmpty() && t.DueDate.Before(now) && t.Status != StatusPaid {
			overdueCount++
		}
	}

	totalIncome := monthIncome + sheetTotals.Income + sheetTotals.InvestmentReturns
	totalExpenses := monthExpenses + sheetTotals.Expenses

	return DashboardData{
		TotalIncome:   totalIncome,
		TotalExpenses: totalExpenses,
		Balance:       totalIncome - totalExpenses,
		PendingBills:  pendingBills,
		OverdueCount:  overdueCount,
	}
}

// MonthlySeries returns one point per trailing month including the month of
// now, oldest first. It always returns exactly monthsBack entries.
func MonthlySeries(transactions []Transaction, monthsBack int, now time.Time) []MonthPoint {
	series := make([]MonthPoint, 0, monthsBack)
	for i := monthsBack - 1; i >= 0; i-- {
		// time.Date normalizes out-of-range months, so going back from
		// January wraps into the previous year.
		ref := time.Date(now.Year(), now.Month()-time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		point := MonthPoint{Year: ref.Year(), Month: ref.Month()}
		for _, t := range transactions {
			if !t.Date.SameMonth(ref.Year(), ref.Month()) {
				continue
			}
			switch t.Kind {
			case Income:
				point.Income += t.Amount
			case Expense:
				point.Expenses += t.Amount
			}
		}
		point.Balance = point.Income - point.Expenses
		series = append(series, point)
	}
	return series
}

// FilterByKind returns the transactions of the given kind, in input order.
func FilterByKind(transactions []Transaction, kind TransactionKind) []Transaction {
	var out []Transaction
	for _, t := range transactions {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// SortByDateDesc returns a copy sorted by date, newest first. The sort is
// stable so same-day entries keep their collection order.
func SortByDateDesc(transactions []Transaction) []Transaction {
	out := make([]Transaction, len(transactions))
	copy(out, transactions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date.Time)
	})
	return out
}
