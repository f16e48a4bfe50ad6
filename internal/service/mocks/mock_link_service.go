package mocks

import (
	"context"
	"iter"

	"github.com/stretchr/testify/mock"

	"holodoc/internal/service"
)

type MockLinkService struct {
	mock.Mock
}

func (m *MockLinkService) AddLink(ctx context.Context, a, b string) (*service.LinkResult, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.LinkResult), args.Error(1)
}

func (m *MockLinkService) RemoveLink(ctx context.Context, a, b string) error {
	args := m.Called(ctx, a, b)
	return args.Error(0)
}

func (m *MockLinkService) Neighbors(ctx context.Context, id string) (iter.Seq[string], error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(iter.Seq[string]), args.Error(1)
}
