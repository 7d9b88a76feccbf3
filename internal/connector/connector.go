package connector

import (
	"context"

	"github.com/crimson-sun/swatch/internal/model"
)

// Connector defines the interface all product sources must implement.
type Connector interface {
	// Stream emits items until the source is exhausted or ctx ends. The
	// channel is closed when the connector stops.
	Stream(ctx context.Context, cfg ConnectorConfig) (<-chan model.Item, error)

	// Query fetches one batch of items.
	Query(ctx context.Context, cfg ConnectorConfig, params QueryParams) ([]model.Item, error)
}

// ConnectorConfig holds provider-specific connection settings.
type ConnectorConfig struct {
	Provider string
	APIKey   string
	Endpoint string
	Extra    map[string]string
}

// QueryParams narrows a batch query.
type QueryParams struct {
	Limit  int
	Search string
}
