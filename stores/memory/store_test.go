package memory

import (
	"context"
	"errors"
	"testing"

	"collabpad/core"
)

func TestCreateAndGetDocument(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	doc := &core.Document{
		OwnerID:       "user-1",
		Title:         "Notes",
		Content:       "hello",
		Collaborators: []string{"user-2"},
	}

	id, err := store.Create(ctx, doc)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if id == "" {
		t.Fatal("Create() returned empty ID")
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Title != "Notes" || got.Content != "hello" || got.OwnerID != "user-1" {
		t.Errorf("Get() returned wrong document: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("Create() should set timestamps")
	}
}

func TestGet_NotFound(t *testing.T) {
	store := NewStore()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, core.ErrDocumentNotFound) {
		t.Errorf("Expected ErrDocumentNotFound, got %v", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	id, _ := store.Create(ctx, &core.Document{OwnerID: "user-1", Title: "Original"})

	got, _ := store.Get(ctx, id)
	got.Title = "Mutated"

	again, _ := store.Get(ctx, id)
	if again.Title != "Original" {
		t.Error("Get() must return a copy, not shared state")
	}
}

func TestList_FiltersByAccess(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	store.Create(ctx, &core.Document{OwnerID: "user-1", Title: "Owned", Content: "big"})
	store.Create(ctx, &core.Document{OwnerID: "user-2", Title: "Shared", Collaborators: []string{"user-1"}})
	store.Create(ctx, &core.Document{OwnerID: "user-3", Title: "Private"})

	docs, err := store.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Expected 2 accessible documents, got %d", len(docs))
	}
	for _, doc := range docs {
		if doc.Content != "" {
			t.Errorf("List() must omit content, got %q for %q", doc.Content, doc.Title)
		}
	}
}

func TestUpdateContent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	id, _ := store.Create(ctx, &core.Document{OwnerID: "user-1", Content: "v1"})

	if err := store.UpdateContent(ctx, id, "v2"); err != nil {
		t.Fatalf("UpdateContent() failed: %v", err)
	}
	got, _ := store.Get(ctx, id)
	if got.Content != "v2" {
		t.Errorf("Content mismatch: got %q, want %q", got.Content, "v2")
	}

	if err := store.UpdateContent(ctx, "missing", "x"); !errors.Is(err, core.ErrDocumentNotFound) {
		t.Errorf("Expected ErrDocumentNotFound for missing document, got %v", err)
	}
}

func TestUpdate_PreservesCreatedAt(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	id, _ := store.Create(ctx, &core.Document{OwnerID: "user-1", Title: "Before"})
	created, _ := store.Get(ctx, id)

	updated := &core.Document{ID: id, OwnerID: "user-1", Title: "After", Collaborators: []string{"user-2"}}
	if err := store.Update(ctx, updated); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, _ := store.Get(ctx, id)
	if got.Title != "After" || len(got.Collaborators) != 1 {
		t.Errorf("Update() did not apply: %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Error("Update() must preserve CreatedAt")
	}
}

func TestDeleteDocument(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	id, _ := store.Create(ctx, &core.Document{OwnerID: "user-1"})
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, core.ErrDocumentNotFound) {
		t.Error("Deleted document should be gone")
	}
	if err := store.Delete(ctx, id); !errors.Is(err, core.ErrDocumentNotFound) {
		t.Errorf("Deleting twice should report not found, got %v", err)
	}
}

func TestUserLifecycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	user := &core.User{
		ID:           "01ABC",
		Subject:      "local:alice",
		Login:        "alice",
		Name:         "Alice",
		PasswordHash: []byte("hash"),
	}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}

	if err := store.CreateUser(ctx, user); !errors.Is(err, core.ErrUserExists) {
		t.Errorf("Duplicate login should fail with ErrUserExists, got %v", err)
	}

	got, err := store.FindUserByLogin(ctx, "alice")
	if err != nil {
		t.Fatalf("FindUserByLogin() failed: %v", err)
	}
	if got.Subject != "local:alice" || string(got.PasswordHash) != "hash" {
		t.Errorf("FindUserByLogin() returned wrong user: %+v", got)
	}

	if _, err := store.FindUserByLogin(ctx, "bob"); !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}
