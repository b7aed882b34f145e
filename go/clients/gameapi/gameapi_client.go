package gameapi

import (
	"time"

	"github.com/mcdev12/deduction/go/clients"
)

// GameApiClient talks to the host's request/response surface
type GameApiClient struct {
	*clients.BaseClient
}

func NewGameApiClient(baseURL string, timeout time.Duration) *GameApiClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := &GameApiClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	client.SetHeader("Accept", "application/json")
	return client
}
