package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"holodoc/internal/logging"
	"holodoc/internal/model"
	"holodoc/internal/repository"
	"holodoc/internal/storage"
)

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []model.Document `json:"data"`
	Total int              `json:"total"`
}

// DocumentDetail is a document plus a temporary URL of its rectified image.
// ImageURL is empty when the image store cannot presign.
type DocumentDetail struct {
	model.Document
	ImageURL string `json:"image_url,omitempty"`
}

// DocumentService defines the use cases for reading and editing documents.
type DocumentService interface {
	// List returns documents using limit/offset and a total count.
	List(ctx context.Context, limit, offset int) (*DocumentListResult, error)

	// Get returns a single document by its ID.
	Get(ctx context.Context, id string) (*DocumentDetail, error)

	// UpdateProperties merges the provided property fields into the document.
	UpdateProperties(ctx context.Context, id string, patch model.PropertiesPatch) (*model.Document, error)

	// OpenImage streams the rectified image of a document.
	OpenImage(ctx context.Context, id string) (io.ReadCloser, storage.ObjectInfo, error)
}

type documentService struct {
	repo      repository.DocumentRepository
	store     storage.Storage
	urlExpiry time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(repo repository.DocumentRepository, store storage.Storage, urlExpiry time.Duration, log *zap.Logger) DocumentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &documentService{
		repo:      repo,
		store:     store,
		urlExpiry: urlExpiry,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns paginated documents without exposing repository types.
func (s *documentService) List(ctx context.Context, limit, offset int) (*DocumentListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, persistence("list documents", err)
	}
	return &DocumentListResult{Items: res.Items, Total: res.Total}, nil
}

func (s *documentService) find(ctx context.Context, id string) (*model.Document, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, id)
		}
		return nil, persistence("find document", err)
	}
	return doc, nil
}

// Get returns a document by ID with a presigned image URL when available.
func (s *documentService) Get(ctx context.Context, id string) (*DocumentDetail, error) {
	doc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &DocumentDetail{Document: *doc}
	url, err := s.store.PresignGet(ctx, doc.ImageKey, s.urlExpiry)
	switch {
	case err == nil:
		detail.ImageURL = url
	case errors.Is(err, storage.ErrPresignUnsupported):
	default:
		s.log.Warn("presign_failed",
			append(logging.ContextFields(ctx), zap.String("document_id", doc.ID), zap.Error(err))...)
	}
	return detail, nil
}

// UpdateProperties applies a partial update of the document properties.
func (s *documentService) UpdateProperties(ctx context.Context, id string, patch model.PropertiesPatch) (*model.Document, error) {
	if patch.IsEmpty() {
		return nil, ErrEmptyPatch
	}
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}
	doc, err := s.repo.UpdateProperties(ctx, id, patch, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, id)
		}
		return nil, persistence("update properties", err)
	}
	return doc, nil
}

// OpenImage returns a reader over the stored rectified image.
func (s *documentService) OpenImage(ctx context.Context, id string) (io.ReadCloser, storage.ObjectInfo, error) {
	doc, err := s.find(ctx, id)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	rc, info, err := s.store.Get(ctx, doc.ImageKey)
	if err != nil {
		return nil, storage.ObjectInfo{}, persistence("open image", err)
	}
	return rc, info, nil
}
