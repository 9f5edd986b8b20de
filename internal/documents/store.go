package documents

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Document is the collaborator projection used for access checks. The
// verification engine never writes document fields.
type Document struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OwnerID        uuid.UUID  `json:"owner_id" db:"owner_id"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty" db:"organization_id"`
	Name           string     `json:"name" db:"name"`
	ContentHash    string     `json:"content_hash" db:"content_hash"`
	StorageURL     string     `json:"storage_url" db:"storage_url"`
	UploadedAt     time.Time  `json:"uploaded_at" db:"uploaded_at"`
}

type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Document, error)
}

type postgresStore struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) FindByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	err := s.db.GetContext(ctx, &doc,
		"SELECT id, owner_id, organization_id, name, content_hash, storage_url, uploaded_at FROM documents WHERE id = $1",
		id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &doc, err
}
