package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"holodoc/internal/model"
)

type MockLinkRepository struct {
	mock.Mock
}

func (m *MockLinkRepository) Add(ctx context.Context, link model.Link) (bool, error) {
	args := m.Called(ctx, link)
	return args.Bool(0), args.Error(1)
}

func (m *MockLinkRepository) Remove(ctx context.Context, a, b string) (bool, error) {
	args := m.Called(ctx, a, b)
	return args.Bool(0), args.Error(1)
}

func (m *MockLinkRepository) Neighbors(ctx context.Context, id string) ([]string, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
