package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/maraichr/docflow/internal/item"
)

func TestCreateItem_ConflictOnActiveSource(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.CreateItem(ctx, item.NewFile("docs", "a.pdf", "e1", "", 1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateItem(ctx, item.NewFile("docs", "a.pdf", "e2", "", 1)); !errors.Is(err, item.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if _, err := s.UpdateItem(ctx, item.KindFile, first.ID,
		item.NewPatch().SetMarkedForDeletion(true).SetStatus(item.StatusDeleting)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateItem(ctx, item.NewFile("docs", "a.pdf", "e2", "", 1)); err != nil {
		t.Fatalf("expected create to succeed once predecessor is marked, got %v", err)
	}

	active, _ := s.ListItems(ctx, item.Filter{Kind: item.KindFile, MarkedForDeletion: item.Bool(false)})
	if len(active) != 1 {
		t.Errorf("expected exactly one active item, got %d", len(active))
	}
}

func TestUpdateItem_IllegalTransition(t *testing.T) {
	ctx := context.Background()
	s := New()
	it, _ := s.CreateItem(ctx, item.NewLink("https://example.com"))

	_, err := s.UpdateItem(ctx, item.KindLink, it.ID, item.NewPatch().SetStatus(item.StatusIngested))
	if !errors.Is(err, item.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	got, _ := s.GetItem(ctx, item.KindLink, it.ID)
	if got.Status != item.StatusUploaded {
		t.Errorf("status changed to %s", got.Status)
	}
}

func TestGetItem_WrongKind(t *testing.T) {
	ctx := context.Background()
	s := New()
	it, _ := s.CreateItem(ctx, item.NewLink("https://example.com"))
	if _, err := s.GetItem(ctx, item.KindFile, it.ID); !errors.Is(err, item.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteItem(ctx, item.KindLink, it.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteItem(ctx, item.KindLink, it.ID); !errors.Is(err, item.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
