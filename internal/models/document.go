package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Content is the document body as sent by the editor (a rich-text delta or similar).
// It is stored and relayed verbatim; the server never looks inside it.
type Content json.RawMessage

// Value implements driver.Valuer so the blob lands in a jsonb column.
func (c Content) Value() (driver.Value, error) {
	if c.IsNull() {
		return nil, nil
	}
	return string(c), nil
}

// Scan implements sql.Scanner.
func (c *Content) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = nil
	case []byte:
		*c = append((*c)[:0], v...)
	case string:
		*c = Content(v)
	default:
		return fmt.Errorf("unsupported content type %T", src)
	}
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsNull() {
		return []byte("null"), nil
	}
	return []byte(c), nil
}

func (c *Content) UnmarshalJSON(data []byte) error {
	*c = append((*c)[:0], data...)
	return nil
}

// IsNull reports whether the blob is absent or a JSON null.
func (c Content) IsNull() bool {
	trimmed := bytes.TrimSpace(c)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Document is the persisted document record. Content is whatever the last writer sent.
type Document struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Title       string    `json:"title" gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	Content     Content   `json:"content" gorm:"type:jsonb"`
	OwnerID     int64     `json:"owner_id" gorm:"not null;index:idx_documents_owner_id"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// DocumentCollaborator is the authoritative per-document, per-user permission row.
type DocumentCollaborator struct {
	DocumentID      int64           `json:"document_id" gorm:"primaryKey"`
	UserID          int64           `json:"user_id" gorm:"primaryKey;index:idx_document_collaborators_user_id"`
	PermissionLevel PermissionLevel `json:"permission_level" gorm:"type:varchar(50);not null;check:chk_perm_level,permission_level IN ('owner','editor','viewer')"`

	Document *Document `json:"-" gorm:"foreignKey:DocumentID;references:ID;constraint:OnDelete:CASCADE"`
}

func (DocumentCollaborator) TableName() string {
	return "document_collaborators"
}

type DocumentCreate struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Content     Content `json:"content"`
	OwnerID     int64   `json:"owner_id"`
}

// TokenBlocklist records revoked token ids (logout).
type TokenBlocklist struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	JTI       string    `gorm:"type:varchar(36);not null;uniqueIndex"`
	TokenType string    `gorm:"type:varchar(10);not null"`
	UserID    int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (TokenBlocklist) TableName() string {
	return "token_blocklist"
}
