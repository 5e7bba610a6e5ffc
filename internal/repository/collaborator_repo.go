package repository

import (
	"context"
	"errors"
	"fmt"

	"docsync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCollaboratorNotFound = errors.New("collaborator not found")
	ErrInvalidPermission    = errors.New("invalid permission level")
)

// CollaboratorRepositoryImpl reads and writes document_collaborators rows
type CollaboratorRepositoryImpl struct {
	db *gorm.DB
}

func NewCollaboratorRepository(db *gorm.DB) *CollaboratorRepositoryImpl {
	return &CollaboratorRepositoryImpl{db: db}
}

// GetPermission returns the user's level on the document
func (r *CollaboratorRepositoryImpl) GetPermission(ctx context.Context, documentID, userID int64) (models.PermissionLevel, error) {
	var collab models.DocumentCollaborator

	err := r.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		First(&collab).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrCollaboratorNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get collaborator: %w", err)
	}

	return collab.PermissionLevel, nil
}

// Upsert grants or changes a user's level on a document
func (r *CollaboratorRepositoryImpl) Upsert(ctx context.Context, documentID, userID int64, level models.PermissionLevel) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPermission, level)
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"permission_level"}),
		}).
		Create(&models.DocumentCollaborator{
			DocumentID:      documentID,
			UserID:          userID,
			PermissionLevel: level,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to upsert collaborator: %w", err)
	}

	return nil
}

// Remove revokes a user's access to a document
func (r *CollaboratorRepositoryImpl) Remove(ctx context.Context, documentID, userID int64) error {
	result := r.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Delete(&models.DocumentCollaborator{})

	if result.Error != nil {
		return fmt.Errorf("failed to remove collaborator: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCollaboratorNotFound
	}

	return nil
}

// ListByDocument returns every collaborator row of a document
func (r *CollaboratorRepositoryImpl) ListByDocument(ctx context.Context, documentID int64) ([]*models.DocumentCollaborator, error) {
	var rows []*models.DocumentCollaborator

	if err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list collaborators: %w", err)
	}

	return rows, nil
}
