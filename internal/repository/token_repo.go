package repository

import (
	"context"
	"fmt"

	"docsync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenBlocklistRepositoryImpl tracks revoked token ids
type TokenBlocklistRepositoryImpl struct {
	db *gorm.DB
}

func NewTokenBlocklistRepository(db *gorm.DB) *TokenBlocklistRepositoryImpl {
	return &TokenBlocklistRepositoryImpl{db: db}
}

// IsRevoked reports whether the token id has been blocklisted
func (r *TokenBlocklistRepositoryImpl) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&models.TokenBlocklist{}).
		Where("jti = ?", jti).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check token blocklist: %w", err)
	}

	return count > 0, nil
}

// Revoke blocklists a token id; revoking twice is not an error
func (r *TokenBlocklistRepositoryImpl) Revoke(ctx context.Context, jti, tokenType string, userID int64) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.TokenBlocklist{JTI: jti, TokenType: tokenType, UserID: userID}).Error
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}
