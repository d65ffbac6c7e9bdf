package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestReadCSV(t *testing.T) {
	t.Run("HeaderAndRows", func(t *testing.T) {
		in := "\ufeffuser_id,amount,timestamp\nu1,10.5,2024-01-01 10:00:00\nu2,20,2024-01-01 11:00:00\n"
		table, err := ReadCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if table.Columns[0] != "user_id" {
			t.Errorf("expected BOM stripped, got %q", table.Columns[0])
		}
		if len(table.Rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(table.Rows))
		}
		if table.Rows[1][1] != "20" {
			t.Errorf("expected amount 20, got %q", table.Rows[1][1])
		}
	})

	t.Run("RaggedRows", func(t *testing.T) {
		in := "user_id,amount,timestamp\nu1,10\nu2,20,2024-01-01,extra\n"
		table, err := ReadCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(table.Rows[0]) != 3 || table.Rows[0][2] != "" {
			t.Errorf("expected short row padded, got %v", table.Rows[0])
		}
		if len(table.Rows[1]) != 3 {
			t.Errorf("expected long row truncated, got %v", table.Rows[1])
		}
	})

	t.Run("HeaderOnly", func(t *testing.T) {
		table, err := ReadCSV(strings.NewReader("user_id,amount,timestamp\n"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(table.Rows) != 0 {
			t.Errorf("expected no rows, got %d", len(table.Rows))
		}
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := ReadCSV(strings.NewReader(""))
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}
