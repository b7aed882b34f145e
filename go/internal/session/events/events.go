package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedEnvelope is returned when an inbound frame is not a JSON envelope
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrMissingType is returned when an envelope carries no type
	ErrMissingType = errors.New("envelope has no type")
)

// Envelope represents the base structure for all inbound host events
type Envelope struct {
	Type      Type            `json:"type"`                // Event type
	Data      json.RawMessage `json:"data"`                // Event-specific payload
	Timestamp string          `json:"timestamp,omitempty"` // Host creation time, when sent
}

// Type represents the type of a host event
type Type string

const (
	TypeGameStart        Type = "game_start"
	TypeAIStatement      Type = "ai_statement"
	TypePlayerStatement  Type = "player_statement"
	TypePhaseChange      Type = "phase_change"
	TypeVoteResults      Type = "vote_results"
	TypePlayerEliminated Type = "player_eliminated"
	TypeNightKill        Type = "night_kill"
	TypeNewDay           Type = "new_day"
	TypeGameOver         Type = "game_over"
)

// Known reports whether t is one of the event types this client applies
func (t Type) Known() bool {
	switch t {
	case TypeGameStart, TypeAIStatement, TypePlayerStatement, TypePhaseChange,
		TypeVoteResults, TypePlayerEliminated, TypeNightKill, TypeNewDay, TypeGameOver:
		return true
	}
	return false
}

// Decode parses a raw inbound frame into an envelope. Only the envelope
// structure is checked here; payloads are parsed by ParseEventPayload.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return &env, nil
}

// ParseEventPayload parses event data into the appropriate payload struct.
// Unknown event types yield a nil payload and a nil error.
func ParseEventPayload(env *Envelope) (interface{}, error) {
	switch env.Type {
	case TypeGameStart:
		var payload GameStartPayload
		if err := unmarshalData(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeAIStatement, TypePlayerStatement:
		var payload StatementPayload
		if err := unmarshalData(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypePhaseChange:
		var payload PhaseChangePayload
		if err := unmarshalData(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeVoteResults:
		var payload VoteResultsPayload
		if err := unmarshalData(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypePlayerEliminated:
		var payload PlayerEliminatedPayload
		if err := unmarshalData(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeNightKill:
		var payload NightKillPayload
		if err := unmarshalData(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeNewDay:
		var payload NewDayPayload
		if err := unmarshalData(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeGameOver:
		var payload GameOverPayload
		if err := unmarshalData(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}

func unmarshalData(env *Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}
