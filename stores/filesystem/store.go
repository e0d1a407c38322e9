package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"collabpad/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// fsStore keeps each document and user as a JSON file under basePath.
type fsStore struct {
	basePath string
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{
		filepath.Join(basePath, "documents"),
		filepath.Join(basePath, "users"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create storage directory: %v", err)
		}
	}
	return &fsStore{basePath: basePath}
}

func (s *fsStore) documentPath(id string) (string, error) {
	// IDs are simple names, never paths.
	if id == "" || filepath.Base(id) != id {
		return "", fmt.Errorf("invalid document id")
	}
	return filepath.Join(s.basePath, "documents", id+".json"), nil
}

func (s *fsStore) userPath(login string) (string, error) {
	if login == "" || filepath.Base(login) != login {
		return "", fmt.Errorf("invalid login")
	}
	return filepath.Join(s.basePath, "users", login+".json"), nil
}

func (s *fsStore) readDocument(path string) (*core.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrDocumentNotFound
		}
		return nil, err
	}
	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *fsStore) writeDocument(doc *core.Document) error {
	path, err := s.documentPath(doc.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DocumentStore implementation

func (s *fsStore) List(ctx context.Context, userID string) ([]*core.Document, error) {
	dir := filepath.Join(s.basePath, "documents")
	log := logrus.WithField("user_id", userID).WithField("path", dir)

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.Document{}, nil
		}
		log.WithError(err).Error("Failed to read documents directory")
		return nil, err
	}

	docs := make([]*core.Document, 0)
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		doc, err := s.readDocument(filepath.Join(dir, file.Name()))
		if err != nil {
			log.WithError(err).Warnf("Failed to read document file %s, skipping", file.Name())
			continue
		}
		if !doc.CanAccess(userID) {
			continue
		}
		doc.Content = "" // metadata only in list views
		docs = append(docs, doc)
	}

	log.Debugf("Listed %d documents", len(docs))
	return docs, nil
}

func (s *fsStore) Get(ctx context.Context, id string) (*core.Document, error) {
	path, err := s.documentPath(id)
	if err != nil {
		return nil, err
	}
	doc, err := s.readDocument(path)
	if err != nil {
		if err != core.ErrDocumentNotFound {
			logrus.WithField("document_id", id).WithError(err).Error("Failed to retrieve document")
		}
		return nil, err
	}
	return doc, nil
}

func (s *fsStore) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	now := time.Now()

	stored := *document
	stored.ID = id
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if err := s.writeDocument(&stored); err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to create document")
		return "", err
	}
	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"owner_id":    document.OwnerID,
	}).Info("Document created")
	return id, nil
}

func (s *fsStore) Update(ctx context.Context, document *core.Document) error {
	path, err := s.documentPath(document.ID)
	if err != nil {
		return err
	}
	existing, err := s.readDocument(path)
	if err != nil {
		return err
	}

	stored := *document
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	return s.writeDocument(&stored)
}

func (s *fsStore) UpdateContent(ctx context.Context, id, content string) error {
	path, err := s.documentPath(id)
	if err != nil {
		return err
	}
	doc, err := s.readDocument(path)
	if err != nil {
		return err
	}
	doc.Content = content
	doc.UpdatedAt = time.Now()
	return s.writeDocument(doc)
}

func (s *fsStore) Delete(ctx context.Context, id string) error {
	path, err := s.documentPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return core.ErrDocumentNotFound
		}
		return err
	}
	logrus.WithField("document_id", id).Info("Document deleted")
	return nil
}

// UserStore implementation

func (s *fsStore) CreateUser(ctx context.Context, user *core.User) error {
	path, err := s.userPath(user.Login)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return core.ErrUserExists
	}

	now := time.Now()
	stored := *user
	stored.CreatedAt = now
	stored.UpdatedAt = now

	// PasswordHash is excluded from the public JSON shape, so accounts are
	// persisted through a private mirror struct.
	data, err := json.Marshal(userRecord{
		User:         stored,
		PasswordHash: stored.PasswordHash,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (s *fsStore) FindUserByLogin(ctx context.Context, login string) (*core.User, error) {
	path, err := s.userPath(login)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}

	var record userRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	user := record.User
	user.PasswordHash = record.PasswordHash
	return &user, nil
}

type userRecord struct {
	core.User
	PasswordHash []byte `json:"passwordHash"`
}
