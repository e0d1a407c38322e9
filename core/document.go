package core

import (
	"context"
	"errors"
	"time"
)

// ErrDocumentNotFound is returned by DocumentStore implementations when no
// document exists under the requested ID.
var ErrDocumentNotFound = errors.New("document not found")

type (
	// Document is a text document owned by a single user and optionally
	// shared with a list of collaborators.
	Document struct {
		ID            string    `json:"id"`
		OwnerID       string    `json:"ownerId"`
		Title         string    `json:"title"`
		Content       string    `json:"content,omitempty"` // Omitted in list views.
		Collaborators []string  `json:"collaborators"`
		CreatedAt     time.Time `json:"createdAt"`
		UpdatedAt     time.Time `json:"updatedAt"`
	}

	// DocumentStore defines the persistence layer for documents. It is the
	// single source of truth for content after a successful save; everything
	// the collaboration layer keeps in memory is transient.
	DocumentStore interface {
		// List returns metadata for all documents the user owns or
		// collaborates on. The returned documents do not carry Content.
		List(ctx context.Context, userID string) ([]*Document, error)

		// Get returns a document by ID, or ErrDocumentNotFound.
		Get(ctx context.Context, id string) (*Document, error)

		// Create stores a new document and returns its assigned ID.
		Create(ctx context.Context, document *Document) (string, error)

		// Update replaces the document's title, content and collaborator
		// list. Returns ErrDocumentNotFound if the document does not exist.
		Update(ctx context.Context, document *Document) error

		// UpdateContent replaces only the document content. This is the path
		// used by explicit saves and debounced autosaves.
		UpdateContent(ctx context.Context, id, content string) error

		// Delete removes a document.
		Delete(ctx context.Context, id string) error
	}
)

// CanAccess reports whether the user may view and edit the document:
// the owner always can, listed collaborators can, nobody else.
func (d *Document) CanAccess(userID string) bool {
	if d.OwnerID == userID {
		return true
	}
	for _, c := range d.Collaborators {
		if c == userID {
			return true
		}
	}
	return false
}
