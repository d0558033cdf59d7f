package remote

import (
	"testing"

	"financeflow/internal/core"
)

func TestOrderColumns(t *testing.T) {
	// fetch order is whatever the database hands back; stored position wins
	cols := []positionedColumn{
		{position: 2, column: core.SpreadsheetColumn{Key: "date", Type: core.ColumnDate}},
		{position: 0, column: core.SpreadsheetColumn{Key: "source", Type: core.ColumnText}},
		{position: 1, column: core.SpreadsheetColumn{Key: "amount", Type: core.ColumnNumber}},
	}

	ordered := orderColumns(cols)

	want := []string{"source", "amount", "date"}
	if len(ordered) != len(want) {
		t.Fatalf("got %d columns, want %d", len(ordered), len(want))
	}
	for i, key := range want {
		if ordered[i].Key != key {
			t.Fatalf("column %d = %q, want %q", i, ordered[i].Key, key)
		}
	}
}

func TestOrderColumnsEmpty(t *testing.T) {
	ordered := orderColumns(nil)
	if len(ordered) != 0 {
		t.Fatalf("expected empty slice, got %+v", ordered)
	}
}
