package repository

import (
	"context"
	"errors"
	"fmt"

	"docsync/internal/models"

	"gorm.io/gorm"
)

var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepositoryImpl handles document persistence using GORM.
// Consumers declare the interface they need; this returns the concrete type.
type DocumentRepositoryImpl struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db}
}

// Create inserts the document and its owner collaborator row in one transaction.
// Realtime permission checks only consult the collaborator table, so a document
// without its owner row would be unreachable.
func (r *DocumentRepositoryImpl) Create(ctx context.Context, doc *models.DocumentCreate) (*models.Document, error) {
	title := doc.Title
	if title == "" {
		title = "Untitled Document"
	}
	document := &models.Document{
		Title:       title,
		Description: doc.Description,
		Content:     doc.Content,
		OwnerID:     doc.OwnerID,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(document).Error; err != nil {
			return err
		}
		return tx.Create(&models.DocumentCollaborator{
			DocumentID:      document.ID,
			UserID:          doc.OwnerID,
			PermissionLevel: models.PermissionOwner,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return document, nil
}

// GetDocument loads a document by id
func (r *DocumentRepositoryImpl) GetDocument(ctx context.Context, id int64) (*models.Document, error) {
	var doc models.Document

	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// SetDocumentContent replaces the stored content wholesale. No merge and no version
// check: the database's single-row update is the only synchronisation.
func (r *DocumentRepositoryImpl) SetDocumentContent(ctx context.Context, id int64, content models.Content) error {
	result := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"content":    content,
			"updated_at": gorm.Expr("NOW()"),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update document content: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}

	return nil
}

// ListForUser returns the documents a user collaborates on, most recently updated first
func (r *DocumentRepositoryImpl) ListForUser(ctx context.Context, userID int64) ([]*models.Document, error) {
	var documents []*models.Document

	err := r.db.WithContext(ctx).
		Joins("JOIN document_collaborators ON document_collaborators.document_id = documents.id").
		Where("document_collaborators.user_id = ?", userID).
		Order("documents.updated_at DESC").
		Find(&documents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return documents, nil
}

// Delete removes a document; collaborator rows cascade
func (r *DocumentRepositoryImpl) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&models.Document{}, "id = ?", id)

	if result.Error != nil {
		return fmt.Errorf("failed to delete document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}

	return nil
}
