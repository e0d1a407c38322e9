package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"collabpad/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
)

type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

func documentKey(id string) (string, error) {
	// Sanitize to prevent key traversal; IDs are simple names.
	if id == "" || path.Base(id) != id || id == "." || id == ".." {
		return "", fmt.Errorf("invalid document id")
	}
	return path.Join("documents", id), nil
}

func userKey(login string) (string, error) {
	if login == "" || path.Base(login) != login || login == "." || login == ".." {
		return "", fmt.Errorf("invalid login")
	}
	return path.Join("users", login), nil
}

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *s3Store) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	return errors.As(err, &nsk)
}

// DocumentStore implementation

func (s *s3Store) List(ctx context.Context, userID string) ([]*core.Document, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("documents/"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %v", err)
	}

	docs := make([]*core.Document, 0, len(output.Contents))
	for _, object := range output.Contents {
		data, err := s.getObject(ctx, *object.Key)
		if err != nil {
			log.Printf("warn: failed to get object %s: %v", *object.Key, err)
			continue
		}

		var doc core.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			log.Printf("warn: failed to unmarshal document %s: %v", *object.Key, err)
			continue
		}
		if !doc.CanAccess(userID) {
			continue
		}
		doc.Content = "" // metadata only in list views
		docs = append(docs, &doc)
	}
	return docs, nil
}

func (s *s3Store) Get(ctx context.Context, id string) (*core.Document, error) {
	key, err := documentKey(id)
	if err != nil {
		return nil, err
	}
	data, err := s.getObject(ctx, key)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, core.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %v", id, err)
	}

	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document data: %v", err)
	}
	return &doc, nil
}

func (s *s3Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	key, err := documentKey(id)
	if err != nil {
		return "", err
	}

	now := time.Now()
	stored := *document
	stored.ID = id
	stored.CreatedAt = now
	stored.UpdatedAt = now

	data, err := json.Marshal(&stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %v", err)
	}
	if err := s.putObject(ctx, key, data); err != nil {
		return "", fmt.Errorf("failed to upload document: %v", err)
	}
	return id, nil
}

func (s *s3Store) Update(ctx context.Context, document *core.Document) error {
	existing, err := s.Get(ctx, document.ID)
	if err != nil {
		return err
	}

	stored := *document
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()

	key, err := documentKey(document.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %v", err)
	}
	if err := s.putObject(ctx, key, data); err != nil {
		return fmt.Errorf("failed to save document %s: %v", document.ID, err)
	}
	return nil
}

func (s *s3Store) UpdateContent(ctx context.Context, id, content string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	doc.Content = content
	doc.UpdatedAt = time.Now()

	key, err := documentKey(id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %v", err)
	}
	if err := s.putObject(ctx, key, data); err != nil {
		return fmt.Errorf("failed to save document %s: %v", id, err)
	}
	return nil
}

func (s *s3Store) Delete(ctx context.Context, id string) error {
	key, err := documentKey(id)
	if err != nil {
		return err
	}
	_, err = s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %v", id, err)
	}
	return nil
}

// UserStore implementation

func (s *s3Store) CreateUser(ctx context.Context, user *core.User) error {
	key, err := userKey(user.Login)
	if err != nil {
		return err
	}
	if _, err := s.getObject(ctx, key); err == nil {
		return core.ErrUserExists
	}

	now := time.Now()
	stored := userRecord{User: *user, PasswordHash: user.PasswordHash}
	stored.CreatedAt = now
	stored.UpdatedAt = now

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %v", err)
	}
	return s.putObject(ctx, key, data)
}

func (s *s3Store) FindUserByLogin(ctx context.Context, login string) (*core.User, error) {
	key, err := userKey(login)
	if err != nil {
		return nil, err
	}
	data, err := s.getObject(ctx, key)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, core.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %s: %v", login, err)
	}

	var record userRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user data: %v", err)
	}
	user := record.User
	user.PasswordHash = record.PasswordHash
	return &user, nil
}

// PasswordHash is excluded from the public JSON shape, so accounts are
// persisted through a private mirror struct.
type userRecord struct {
	core.User
	PasswordHash []byte `json:"passwordHash"`
}
