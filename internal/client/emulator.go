package client

import (
	"context"
	"net/http"

	"github.com/watzon/fnrun/internal/projector"
)

// Emulator deploys functions to the local emulator.
type Emulator struct {
	baseClient
	deployPath string
}

// NewEmulator creates an emulator client for baseURL.
func NewEmulator(baseURL, deployPath string, httpClient *http.Client) *Emulator {
	return &Emulator{
		baseClient: newBaseClient(baseURL, httpClient),
		deployPath: deployPath,
	}
}

// Deploy deploys a single function.
func (e *Emulator) Deploy(ctx context.Context, fn projector.FunctionDeploymentConfig) error {
	return e.do(ctx, http.MethodPost, e.deployPath, fn)
}
