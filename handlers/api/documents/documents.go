package documents

import (
	"encoding/json"
	"errors"
	"net/http"

	"collabpad/core"
	"collabpad/handlers/auth"
	"collabpad/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

func claimsFrom(r *http.Request) (*auth.AppClaims, bool) {
	claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
	return claims, ok
}

// HandleList returns metadata for every document the user owns or
// collaborates on.
func HandleList(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		docs, err := store.List(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
			}).Error("Failed to list documents")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list documents"})
			return
		}

		if docs == nil {
			docs = []*core.Document{}
		}
		render.JSON(w, r, docs)
	}
}

// HandleCreate creates a document owned by the requesting user.
func HandleCreate(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid JSON in request body"})
			return
		}
		if req.Title == "" {
			req.Title = "Untitled document"
		}

		doc := &core.Document{
			OwnerID: claims.Subject,
			Title:   req.Title,
			Content: req.Content,
		}
		id, err := store.Create(r.Context(), doc)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
			}).Error("Failed to create document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create document"})
			return
		}
		doc.ID = id

		logrus.WithFields(logrus.Fields{
			"document_id": id,
			"userID":      claims.Subject,
		}).Info("Document created")
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, doc)
	}
}

// HandleGet returns a full document if the user is owner or collaborator.
func HandleGet(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		doc, ok := loadAccessible(w, r, store, claims, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		render.JSON(w, r, doc)
	}
}

// HandleUpdate replaces title and/or content. Owners and collaborators may
// update.
func HandleUpdate(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		doc, ok := loadAccessible(w, r, store, claims, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		var req struct {
			Title   *string `json:"title"`
			Content *string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid JSON in request body"})
			return
		}
		if req.Title != nil {
			doc.Title = *req.Title
		}
		if req.Content != nil {
			doc.Content = *req.Content
		}

		if err := store.Update(r.Context(), doc); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"document_id": doc.ID,
			}).Error("Failed to update document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to update document"})
			return
		}
		render.JSON(w, r, doc)
	}
}

// HandleDelete removes a document. Owner only.
func HandleDelete(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		doc, ok := loadOwned(w, r, store, claims, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		if err := store.Delete(r.Context(), doc.ID); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"document_id": doc.ID,
			}).Error("Failed to delete document")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to delete document"})
			return
		}
		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"status": "deleted"})
	}
}

// HandleAddCollaborator grants another user access. Owner only.
func HandleAddCollaborator(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		doc, ok := loadOwned(w, r, store, claims, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		var req struct {
			UserID string `json:"userId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "userId is required"})
			return
		}
		if req.UserID == doc.OwnerID {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Owner is always a collaborator"})
			return
		}

		for _, c := range doc.Collaborators {
			if c == req.UserID {
				render.JSON(w, r, doc)
				return
			}
		}
		doc.Collaborators = append(doc.Collaborators, req.UserID)

		if err := store.Update(r.Context(), doc); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"document_id": doc.ID,
			}).Error("Failed to add collaborator")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to add collaborator"})
			return
		}
		render.JSON(w, r, doc)
	}
}

// HandleRemoveCollaborator revokes a user's access. Owner only.
func HandleRemoveCollaborator(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		doc, ok := loadOwned(w, r, store, claims, chi.URLParam(r, "id"))
		if !ok {
			return
		}

		userID := chi.URLParam(r, "userId")
		kept := doc.Collaborators[:0]
		for _, c := range doc.Collaborators {
			if c != userID {
				kept = append(kept, c)
			}
		}
		doc.Collaborators = kept

		if err := store.Update(r.Context(), doc); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"document_id": doc.ID,
			}).Error("Failed to remove collaborator")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to remove collaborator"})
			return
		}
		render.JSON(w, r, doc)
	}
}

func loadAccessible(w http.ResponseWriter, r *http.Request, store core.DocumentStore, claims *auth.AppClaims, id string) (*core.Document, bool) {
	doc, ok := loadDocument(w, r, store, id)
	if !ok {
		return nil, false
	}
	if !doc.CanAccess(claims.Subject) {
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]string{"error": "Access denied"})
		return nil, false
	}
	return doc, true
}

func loadOwned(w http.ResponseWriter, r *http.Request, store core.DocumentStore, claims *auth.AppClaims, id string) (*core.Document, bool) {
	doc, ok := loadDocument(w, r, store, id)
	if !ok {
		return nil, false
	}
	if doc.OwnerID != claims.Subject {
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]string{"error": "Only the owner may do this"})
		return nil, false
	}
	return doc, true
}

func loadDocument(w http.ResponseWriter, r *http.Request, store core.DocumentStore, id string) (*core.Document, bool) {
	if id == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "Document id is required"})
		return nil, false
	}

	doc, err := store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrDocumentNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Document not found"})
			return nil, false
		}
		logrus.WithFields(logrus.Fields{
			"error":       err,
			"document_id": id,
		}).Error("Failed to load document")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Failed to load document"})
		return nil, false
	}
	return doc, true
}
