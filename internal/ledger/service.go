// Package ledger serves read access to the recorded ledger.
package ledger

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/casino-ledger/internal/models"
	"github.com/smartdevs17/casino-ledger/internal/storage"
	"github.com/smartdevs17/casino-ledger/pkg/utils"
)

const (
	DefaultPage     = 0
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// PageRequest holds caller-supplied paging parameters; nil means not supplied
type PageRequest struct {
	Page *int
	Size *int
}

// Service answers paginated ledger queries
type Service struct {
	storage storage.Storage
	logger  *logrus.Entry
}

// NewService creates a query service over store
func NewService(store storage.Storage) *Service {
	return &Service{
		storage: store,
		logger:  utils.ComponentLogger("ledger"),
	}
}

// Normalize applies defaults and bounds: a missing or negative page becomes 0,
// a missing or non-positive size becomes 10, and sizes above MaxPageSize are capped
func Normalize(req PageRequest) (page, size int) {
	page, size = DefaultPage, DefaultPageSize
	if req.Page != nil && *req.Page >= 0 {
		page = *req.Page
	}
	if req.Size != nil && *req.Size >= 1 {
		size = min(*req.Size, MaxPageSize)
	}
	return page, size
}

// List returns one page of ledger entries, newest first
func (s *Service) List(ctx context.Context, req PageRequest) (*models.Page, error) {
	page, size := Normalize(req)

	result, err := s.storage.Page(ctx, page, size)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"page":  page,
			"size":  size,
			"error": err,
		}).Error("Failed to read ledger page")
		return nil, err
	}
	return result, nil
}

// Stats returns storage statistics
func (s *Service) Stats(ctx context.Context) (*storage.StorageStats, error) {
	return s.storage.GetStorageStats(ctx)
}

// Health reports storage health
func (s *Service) Health() *storage.StorageHealth {
	return s.storage.GetHealth()
}
