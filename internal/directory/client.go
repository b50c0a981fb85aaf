// Package directory talks to the external certificate authority that
// Search consults when a query targets issued certificates.
package directory

import (
	"context"

	"certinv/internal/certs"
)

// Client defines the interface for querying the external directory.
type Client interface {
	// Search returns the records matching q. A non-success upstream answer
	// is reported as errors.ErrUpstream and no records.
	Search(ctx context.Context, q certs.Query) ([]certs.ExternalRecord, error)
	CheckConnection(ctx context.Context) error
	Shutdown()
}
