package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clipnote/clipnote-backend/internal/logger"
	"github.com/clipnote/clipnote-backend/internal/types"
)

type CollectionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, collection *types.Collection) (*types.Collection, error)
	GetOwned(ctx context.Context, tx *gorm.DB, ownerID, id uuid.UUID) (*types.Collection, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) ([]*types.Collection, error)
	Rename(ctx context.Context, tx *gorm.DB, ownerID, id uuid.UUID, name string) error
	Delete(ctx context.Context, tx *gorm.DB, ownerID, id uuid.UUID) error
}

type TagRepo interface {
	EnsureByName(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, name string) (*types.Tag, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) ([]*types.Tag, error)
}

type collectionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCollectionRepo(db *gorm.DB, baseLog *logger.Logger) CollectionRepo {
	return &collectionRepo{db: db, log: baseLog.With("repo", "CollectionRepo")}
}

func (r *collectionRepo) Create(ctx context.Context, tx *gorm.DB, collection *types.Collection) (*types.Collection, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if collection.ID == uuid.Nil {
		collection.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(collection).Error; err != nil {
		return nil, err
	}
	return collection, nil
}

func (r *collectionRepo) GetOwned(ctx context.Context, tx *gorm.DB, ownerID, id uuid.UUID) (*types.Collection, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.Collection
	err := transaction.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *collectionRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) ([]*types.Collection, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Collection
	if err := transaction.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *collectionRepo) Rename(ctx context.Context, tx *gorm.DB, ownerID, id uuid.UUID, name string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Collection{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Update("name", name).Error
}

func (r *collectionRepo) Delete(ctx context.Context, tx *gorm.DB, ownerID, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&types.Collection{}).Error
}

type tagRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTagRepo(db *gorm.DB, baseLog *logger.Logger) TagRepo {
	return &tagRepo{db: db, log: baseLog.With("repo", "TagRepo")}
}

func (r *tagRepo) EnsureByName(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, name string) (*types.Tag, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var existing types.Tag
	err := transaction.WithContext(ctx).
		Where("owner_id = ? AND name = ?", ownerID, name).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	row := &types.Tag{ID: uuid.New(), OwnerID: ownerID, Name: name}
	if err := transaction.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *tagRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) ([]*types.Tag, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Tag
	if err := transaction.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("name ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
