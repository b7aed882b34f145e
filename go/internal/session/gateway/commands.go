package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/deduction/go/internal/session/events"
)

// Sender transmits a pre-serialized command on the active connection
type Sender interface {
	Send(payload []byte) bool
}

// Commands serializes local participant actions. Commands are
// fire-and-forget: nothing is queued, retried or acknowledged, and the
// current phase is not checked.
type Commands struct {
	sender Sender
	newRef func() string
}

// NewCommands creates the outbound command channel
func NewCommands(sender Sender) *Commands {
	return &Commands{
		sender: sender,
		newRef: uuid.NewString,
	}
}

// SayResult describes a submitted remark
type SayResult struct {
	ClientRef string // correlation id the host may echo back
	Sent      bool
}

// Say submits a remark. The returned ClientRef is also used for the local
// echo so the host's copy can be matched against it.
func (c *Commands) Say(text string) (SayResult, error) {
	ref := c.newRef()
	payload, err := json.Marshal(events.StatementCommand{Statement: text, ClientRef: ref})
	if err != nil {
		return SayResult{}, fmt.Errorf("marshal statement: %w", err)
	}

	sent := c.sender.Send(payload)
	log.Debug().
		Str("client_ref", ref).
		Bool("sent", sent).
		Msg("statement submitted")
	return SayResult{ClientRef: ref, Sent: sent}, nil
}

// Vote submits a ballot against target
func (c *Commands) Vote(target string) (bool, error) {
	payload, err := json.Marshal(events.VoteCommand{Target: target})
	if err != nil {
		return false, fmt.Errorf("marshal vote: %w", err)
	}

	sent := c.sender.Send(payload)
	log.Debug().
		Str("target", target).
		Bool("sent", sent).
		Msg("vote submitted")
	return sent, nil
}
