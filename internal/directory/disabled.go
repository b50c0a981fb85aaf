package directory

import (
	"context"

	"certinv/internal/certs"
	cierrors "certinv/internal/errors"
)

type disabledClient struct{}

// NewDisabled returns a client that refuses every call.
func NewDisabled() Client {
	return &disabledClient{}
}

func (c *disabledClient) Search(_ context.Context, _ certs.Query) ([]certs.ExternalRecord, error) {
	return nil, cierrors.ErrDirectoryNotConfigured
}

func (c *disabledClient) CheckConnection(_ context.Context) error {
	return cierrors.ErrDirectoryNotConfigured
}

func (c *disabledClient) Shutdown() {
}
