package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"holodoc/internal/service"
	"holodoc/internal/vision"
)

type MockIngestService struct {
	mock.Mock
}

func (m *MockIngestService) Ingest(ctx context.Context, req service.IngestRequest) (*service.IngestResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestResult), args.Error(1)
}

func (m *MockIngestService) Match(ctx context.Context, capture vision.Capture) (*service.MatchResult, error) {
	args := m.Called(ctx, capture)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.MatchResult), args.Error(1)
}
