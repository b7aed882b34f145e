package gameapi

const (
	// DefaultBaseURL is where a locally started host listens
	DefaultBaseURL = "http://localhost:18080"

	// API Endpoints
	NewGameEndpoint   = "/api/game/new"
	GameStateEndpoint = "/api/game/%s/state"
	HealthEndpoint    = "/health"
)
