package memory

import (
	"context"
	"sync"
	"time"

	"collabpad/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore implements both DocumentStore and UserStore for in-memory
// storage. Everything is lost on restart; useful for development and tests.
type memStore struct {
	mu        sync.RWMutex
	documents map[string]*core.Document
	users     map[string]*core.User // keyed by login
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		documents: make(map[string]*core.Document),
		users:     make(map[string]*core.User),
	}
}

func cloneDocument(d *core.Document) *core.Document {
	dup := *d
	dup.Collaborators = append([]string(nil), d.Collaborators...)
	return &dup
}

// DocumentStore implementation

func (s *memStore) List(ctx context.Context, userID string) ([]*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*core.Document, 0)
	for _, doc := range s.documents {
		if !doc.CanAccess(userID) {
			continue
		}
		listDoc := cloneDocument(doc)
		listDoc.Content = "" // metadata only in list views
		docs = append(docs, listDoc)
	}

	logrus.WithField("user_id", userID).Debugf("Listed %d documents", len(docs))
	return docs, nil
}

func (s *memStore) Get(ctx context.Context, id string) (*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		logrus.WithField("document_id", id).Warn("Document with specified ID not found")
		return nil, core.ErrDocumentNotFound
	}
	return cloneDocument(doc), nil
}

func (s *memStore) Create(ctx context.Context, document *core.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ulid.Make().String()
	now := time.Now()
	stored := cloneDocument(document)
	stored.ID = id
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.documents[id] = stored

	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"owner_id":    document.OwnerID,
	}).Info("Document created")
	return id, nil
}

func (s *memStore) Update(ctx context.Context, document *core.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.documents[document.ID]
	if !ok {
		return core.ErrDocumentNotFound
	}
	stored := cloneDocument(document)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	s.documents[document.ID] = stored
	return nil
}

func (s *memStore) UpdateContent(ctx context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return core.ErrDocumentNotFound
	}
	doc.Content = content
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return core.ErrDocumentNotFound
	}
	delete(s.documents, id)
	logrus.WithField("document_id", id).Info("Document deleted")
	return nil
}

// UserStore implementation

func (s *memStore) CreateUser(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.Login]; ok {
		return core.ErrUserExists
	}
	now := time.Now()
	stored := *user
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.users[user.Login] = &stored
	return nil
}

func (s *memStore) FindUserByLogin(ctx context.Context, login string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[login]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	dup := *user
	return &dup, nil
}
