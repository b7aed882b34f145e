package events

// Event payload types shared by the router, the mirror and the bootstrap client

// PlayerPayload is one roster entry as the host describes it
type PlayerPayload struct {
	Name            string             `json:"name"`
	Alive           bool               `json:"alive"`
	Role            string             `json:"role,omitempty"` // "hidden" for other players
	EmotionalState  *EmotionPayload    `json:"emotional_state,omitempty"`
	SuspicionScores map[string]float64 `json:"suspicion_scores,omitempty"`
}

// EmotionPayload is the advisory emotional state of a host-controlled player
type EmotionPayload struct {
	Anger      float64 `json:"anger"`
	Fear       float64 `json:"fear"`
	Confidence float64 `json:"confidence"`
}

// GameStartPayload is the payload for a game_start event
type GameStartPayload struct {
	GameID  string          `json:"game_id"`
	Day     int             `json:"day"`
	Phase   string          `json:"phase"`
	Players []PlayerPayload `json:"players"`
}

// StatementPayload is the payload for ai_statement and player_statement events
type StatementPayload struct {
	Player    string `json:"player"`
	Role      string `json:"role,omitempty"` // ai_statement only
	Statement string `json:"statement"`
	Timestamp string `json:"timestamp"`
	ClientRef string `json:"client_ref,omitempty"` // echoed back for the sender's own remarks
}

// PhaseChangePayload is the payload for a phase_change event
type PhaseChangePayload struct {
	Phase string `json:"phase"`
}

// VoteResultsPayload is the payload for a vote_results event
type VoteResultsPayload struct {
	Votes  map[string]string `json:"votes"`
	Counts map[string]int    `json:"counts,omitempty"`
}

// PlayerEliminatedPayload is the payload for a player_eliminated event
type PlayerEliminatedPayload struct {
	Player string `json:"player"`
	Role   string `json:"role,omitempty"`
}

// NightKillPayload is the payload for a night_kill event
type NightKillPayload struct {
	Victim string `json:"victim"`
	Role   string `json:"role,omitempty"`
}

// NewDayPayload is the payload for a new_day event
type NewDayPayload struct {
	Day int `json:"day"`
}

// GameOverPayload is the payload for a game_over event
type GameOverPayload struct {
	Winner string `json:"winner"`
	Day    int    `json:"day,omitempty"`
}

// StatementCommand is the outbound remark sent by the local participant
type StatementCommand struct {
	Statement string `json:"statement"`
	ClientRef string `json:"client_ref,omitempty"`
}

// VoteCommand is the outbound ballot sent by the local participant
type VoteCommand struct {
	Target string `json:"target"`
}
