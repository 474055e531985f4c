package blob

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sujalbistaa/rankfeed/internal/models"
)

// GormStore keeps blobs in the ledger database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Put(ctx context.Context, data []byte) (string, error) {
	id := ContentID(data)
	if id == models.EmptyRef {
		return id, nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Blob{ID: id, Data: data, Size: len(data)}).Error
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *GormStore) Get(ctx context.Context, id string) ([]byte, error) {
	if id == models.EmptyRef {
		return []byte{}, nil
	}
	if err := checkID("Get", id); err != nil {
		return nil, err
	}
	var b models.Blob
	err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Get")
	}
	if err != nil {
		return nil, err
	}
	return b.Data, nil
}
