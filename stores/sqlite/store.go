package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"collabpad/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	docTableStmt := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT,
		content TEXT,
		collaborators TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(docTableStmt); err != nil {
		log.Fatalf("failed to create documents table: %v", err)
	}

	userTableStmt := `
	CREATE TABLE IF NOT EXISTS users (
		login TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		subject TEXT NOT NULL,
		email TEXT,
		avatar_url TEXT,
		name TEXT,
		password_hash BLOB,
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(userTableStmt); err != nil {
		log.Fatalf("failed to create users table: %v", err)
	}

	return &sqliteStore{db}
}

// Collaborator lists are small, so they live as a JSON array in a TEXT
// column rather than a join table.
func marshalCollaborators(collaborators []string) (string, error) {
	if collaborators == nil {
		collaborators = []string{}
	}
	raw, err := json.Marshal(collaborators)
	return string(raw), err
}

func unmarshalCollaborators(raw string) []string {
	if raw == "" {
		return nil
	}
	var collaborators []string
	if err := json.Unmarshal([]byte(raw), &collaborators); err != nil {
		logrus.WithError(err).Warn("Failed to decode collaborator list")
		return nil
	}
	if len(collaborators) == 0 {
		return nil
	}
	return collaborators
}

// DocumentStore implementation

func (s *sqliteStore) List(ctx context.Context, userID string) ([]*core.Document, error) {
	// Collaborator match uses the JSON array column; owner match is direct.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, collaborators, created_at, updated_at
		FROM documents
		WHERE owner_id = ? OR collaborators LIKE '%' || ? || '%'`,
		userID, `"`+userID+`"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*core.Document
	for rows.Next() {
		var doc core.Document
		var collaborators string
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &collaborators, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Collaborators = unmarshalCollaborators(collaborators)
		if !doc.CanAccess(userID) {
			// LIKE is a prefilter; the predicate is authoritative.
			continue
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	var doc core.Document
	var collaborators string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, content, collaborators, created_at, updated_at
		FROM documents WHERE id = ?`, id).
		Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Content, &collaborators, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Warn("Document with specified ID not found")
			return nil, core.ErrDocumentNotFound
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}
	doc.Collaborators = unmarshalCollaborators(collaborators)
	return &doc, nil
}

func (s *sqliteStore) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	collaborators, err := marshalCollaborators(document.Collaborators)
	if err != nil {
		return "", err
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, title, content, collaborators, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, document.OwnerID, document.Title, document.Content, collaborators, now, now)
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to create document")
		return "", err
	}
	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"owner_id":    document.OwnerID,
	}).Info("Document created")
	return id, nil
}

func (s *sqliteStore) Update(ctx context.Context, document *core.Document) error {
	collaborators, err := marshalCollaborators(document.Collaborators)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title = ?, content = ?, collaborators = ?, updated_at = ?
		WHERE id = ?`,
		document.Title, document.Content, collaborators, time.Now(), document.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrDocumentNotFound
	}
	return nil
}

func (s *sqliteStore) UpdateContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET content = ?, updated_at = ? WHERE id = ?",
		content, time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrDocumentNotFound
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrDocumentNotFound
	}
	return nil
}

// UserStore implementation

func (s *sqliteStore) CreateUser(ctx context.Context, user *core.User) error {
	// Single atomic insert; the login primary key arbitrates concurrent
	// signups.
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (login, id, subject, email, avatar_url, name, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(login) DO NOTHING`,
		user.Login, user.ID, user.Subject, user.Email, user.AvatarURL, user.Name, user.PasswordHash, now, now)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrUserExists
	}
	return nil
}

func (s *sqliteStore) FindUserByLogin(ctx context.Context, login string) (*core.User, error) {
	var user core.User
	err := s.db.QueryRowContext(ctx, `
		SELECT login, id, subject, email, avatar_url, name, password_hash, created_at, updated_at
		FROM users WHERE login = ?`, login).
		Scan(&user.Login, &user.ID, &user.Subject, &user.Email, &user.AvatarURL, &user.Name, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
