package client

import (
	"context"
	"net/http"

	"github.com/watzon/fnrun/internal/projector"
)

// Gateway configures the local event gateway through its config API.
type Gateway struct {
	baseClient
	configPath string
}

// NewGateway creates a gateway client for the config API at baseURL.
func NewGateway(baseURL, configPath string, httpClient *http.Client) *Gateway {
	return &Gateway{
		baseClient: newBaseClient(baseURL, httpClient),
		configPath: configPath,
	}
}

// Reset wipes every function and subscription the gateway holds.
func (g *Gateway) Reset(ctx context.Context) error {
	return g.do(ctx, http.MethodDelete, g.configPath, nil)
}

// Configure replaces the gateway configuration with cfg.
func (g *Gateway) Configure(ctx context.Context, cfg projector.GatewayConfiguration) error {
	return g.do(ctx, http.MethodPut, g.configPath, cfg)
}
