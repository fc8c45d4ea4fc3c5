package out

import (
	"context"
	"time"

	"mailmind/core/domain"
)

// =============================================================================
// Mail Connector Port
// =============================================================================

// ConnectorCapabilities flags what the provider supports.
type ConnectorCapabilities struct {
	SupportsPush   bool
	SupportsLabels bool
}

// PullResult is one page of pulled messages plus the next watermark.
type PullResult struct {
	Messages  []*domain.Message
	NextSince time.Time
}

// Connector is the opaque mail-service adapter the core pulls from and
// pushes mutations back to. Implementations map provider failures onto
// apperr kinds (auth, rate-limit, transient).
type Connector interface {
	Name() string
	Capabilities() ConnectorCapabilities

	Authenticate(ctx context.Context) error
	Pull(ctx context.Context, since time.Time, max int) (*PullResult, error)
	GetMessage(ctx context.Context, externalID string) (*domain.Message, error)

	MarkRead(ctx context.Context, externalID string, read bool) error
	Archive(ctx context.Context, externalID string) error
	ApplyLabels(ctx context.Context, externalID string, add, remove []string) error
	ListLabels(ctx context.Context) ([]string, error)
}
