package directory

import (
	"context"

	"github.com/stretchr/testify/mock"

	"certinv/internal/certs"
)

// MockClient is a testify mock implementing Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Search(ctx context.Context, q certs.Query) ([]certs.ExternalRecord, error) {
	args := m.Called(ctx, q)
	if list, ok := args.Get(0).([]certs.ExternalRecord); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) CheckConnection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Shutdown() {
	m.Called()
}
