package gameapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/mcdev12/deduction/go/internal/session/events"
)

// ErrIncompleteResponse is returned when the host omits required fields
var ErrIncompleteResponse = errors.New("incomplete response from host")

type NewGameRequest struct {
	PlayerName string `json:"player_name"`
}

// NewGameResponse is the bootstrap state of a freshly created session
type NewGameResponse struct {
	GameID   string                 `json:"game_id"`
	Day      int                    `json:"day"`
	Phase    string                 `json:"phase"`
	Players  []events.PlayerPayload `json:"players"`
	YourRole string                 `json:"your_role"`
}

// GameStateResponse is the host's full view of a session
type GameStateResponse struct {
	GameID  string                 `json:"game_id"`
	Day     int                    `json:"day"`
	Phase   string                 `json:"phase"`
	Turn    int                    `json:"turn"`
	Players []events.PlayerPayload `json:"players"`
	Winner  *string                `json:"winner"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// NewGame asks the host to create a session for playerName
func (c *GameApiClient) NewGame(ctx context.Context, playerName string) (*NewGameResponse, error) {
	reqBody, err := json.Marshal(NewGameRequest{PlayerName: playerName})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.Post(ctx, NewGameEndpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}

	var response NewGameResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	if response.GameID == "" {
		return nil, fmt.Errorf("%w: missing game_id", ErrIncompleteResponse)
	}

	return &response, nil
}

// GameState fetches the host's current view of a session
func (c *GameApiClient) GameState(ctx context.Context, gameID string) (*GameStateResponse, error) {
	if gameID == "" {
		return nil, fmt.Errorf("%w: empty game id", ErrIncompleteResponse)
	}

	body, err := c.Get(ctx, fmt.Sprintf(GameStateEndpoint, url.PathEscape(gameID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get game state: %w", err)
	}

	var response GameStateResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	return &response, nil
}

// Health reports whether the host answers its liveness probe
func (c *GameApiClient) Health(ctx context.Context) (*HealthResponse, error) {
	body, err := c.Get(ctx, HealthEndpoint)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	var response HealthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	return &response, nil
}
