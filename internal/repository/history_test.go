package repository

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestInMemoryHistory_NewestFirst(t *testing.T) {
	h := NewInMemoryHistory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.Save(ctx, AskRecord{
			ID:        fmt.Sprintf("r%d", i),
			Question:  "q",
			Answer:    "a",
			CreatedAt: time.Now(),
		})
	}

	got, err := h.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[0].ID != "r2" {
		t.Errorf("expected newest first, got %s", got[0].ID)
	}
}

func TestInMemoryHistory_RespectsLimit(t *testing.T) {
	h := NewInMemoryHistory()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		h.Save(ctx, AskRecord{ID: fmt.Sprintf("r%d", i)})
	}

	got, err := h.List(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Errorf("expected 4 records, got %d", len(got))
	}
}

func TestInMemoryHistory_Bounded(t *testing.T) {
	h := NewInMemoryHistory()
	ctx := context.Background()

	for i := 0; i < inMemoryHistoryCap+50; i++ {
		h.Save(ctx, AskRecord{ID: fmt.Sprintf("r%d", i)})
	}

	got, _ := h.List(ctx, 0)
	if len(got) != inMemoryHistoryCap {
		t.Errorf("expected cap of %d, got %d", inMemoryHistoryCap, len(got))
	}
}
