package repository

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/debemdeboas/the-calendar/internal/model"
)

func TestMemoryTextRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Insert then list sorted by slot", func(t *testing.T) {
		repo := NewMemoryTextRepository()
		for _, s := range []model.Slot{9, 2, 5} {
			if err := repo.Insert(ctx, model.TextRecord{Slot: s, Title: model.DefaultTitle(s)}); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
		}

		records, _ := repo.ListAll(ctx)
		if len(records) != 3 {
			t.Fatalf("Expected 3 records, got %d", len(records))
		}
		if records[0].Slot != 2 || records[1].Slot != 5 || records[2].Slot != 9 {
			t.Errorf("Records not sorted: %v", records)
		}
		if records[0].ID == nil || records[0].CreatedAt == nil {
			t.Error("Expected backend assigned fields")
		}
	})

	t.Run("Duplicate insert is a conflict", func(t *testing.T) {
		repo := NewMemoryTextRepository()
		_ = repo.Insert(ctx, model.TextRecord{Slot: 1})

		err := repo.Insert(ctx, model.TextRecord{Slot: 1})
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("Expected TransportError, got %v", err)
		}
		if te.StatusCode != http.StatusConflict {
			t.Errorf("Expected 409, got %d", te.StatusCode)
		}
	})

	t.Run("Update missing slot is not an error", func(t *testing.T) {
		repo := NewMemoryTextRepository()
		if err := repo.Update(ctx, 4, model.TextPatch{Title: "x"}); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
		records, _ := repo.ListAll(ctx)
		if len(records) != 0 {
			t.Errorf("Update must not create rows, got %d", len(records))
		}
	})

	t.Run("Upsert keeps identity", func(t *testing.T) {
		repo := NewMemoryTextRepository()
		_ = repo.Upsert(ctx, model.TextRecord{Slot: 3, Title: "a"})
		_ = repo.Upsert(ctx, model.TextRecord{Slot: 3, Title: "b"})

		records, _ := repo.ListAll(ctx)
		if len(records) != 1 || records[0].Title != "b" {
			t.Fatalf("Expected single updated record, got %v", records)
		}
		if *records[0].ID != 1 {
			t.Errorf("Expected id 1 to survive the upsert, got %d", *records[0].ID)
		}
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		repo := NewMemoryTextRepository()
		_ = repo.Insert(ctx, model.TextRecord{Slot: 6})

		for i := 0; i < 2; i++ {
			if err := repo.Delete(ctx, 6); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
		}
		records, _ := repo.ListAll(ctx)
		if len(records) != 0 {
			t.Errorf("Expected no records, got %d", len(records))
		}
	})
}
