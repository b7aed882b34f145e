package router

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/deduction/go/internal/session/events"
	"github.com/mcdev12/deduction/go/internal/session/phase"
	"github.com/mcdev12/deduction/go/internal/session/state"
)

// Outcome is what happened to one inbound payload
type Outcome int

const (
	Applied Outcome = iota + 1
	Ignored
	Malformed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Ignored:
		return "ignored"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Result describes how one payload was routed
type Result struct {
	Outcome  Outcome
	Envelope *events.Envelope // nil when Malformed at the envelope level
	Err      error            // decode error for Malformed, reason for Ignored
}

var (
	ErrUnknownType        = errors.New("unknown event type")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrTerminal           = errors.New("session is over")
	ErrUnknownPhase       = errors.New("unknown phase")
	ErrWinnerFinal        = errors.New("winner already declared")
)

// Stats counts routed payloads by outcome
type Stats struct {
	Applied   uint64 `json:"applied"`
	Ignored   uint64 `json:"ignored"`
	Malformed uint64 `json:"malformed"`
}

// Router turns inbound host payloads into State Container mutations. Route
// must be called from one goroutine; each payload is fully applied before
// Route returns.
type Router struct {
	store *state.Store
	clock clockwork.Clock

	applied   atomic.Uint64
	ignored   atomic.Uint64
	malformed atomic.Uint64
}

// NewRouter creates a router bound to one state container
func NewRouter(store *state.Store, clock clockwork.Clock) *Router {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Router{store: store, clock: clock}
}

// Stats returns the routing counters
func (r *Router) Stats() Stats {
	return Stats{
		Applied:   r.applied.Load(),
		Ignored:   r.ignored.Load(),
		Malformed: r.malformed.Load(),
	}
}

// Route decodes one raw payload and dispatches it by type
func (r *Router) Route(raw []byte) Result {
	env, err := events.Decode(raw)
	if err != nil {
		r.malformed.Add(1)
		log.Warn().Err(err).Int("size", len(raw)).Msg("discarding malformed payload")
		return Result{Outcome: Malformed, Err: err}
	}
	return r.Dispatch(env)
}

// Dispatch applies an already decoded envelope
func (r *Router) Dispatch(env *events.Envelope) Result {
	if !env.Type.Known() {
		r.ignored.Add(1)
		log.Debug().Str("event_type", string(env.Type)).Msg("ignoring unknown event type")
		return Result{Outcome: Ignored, Envelope: env, Err: ErrUnknownType}
	}

	payload, err := events.ParseEventPayload(env)
	if err != nil {
		r.malformed.Add(1)
		log.Warn().Err(err).Str("event_type", string(env.Type)).Msg("discarding event with malformed payload")
		return Result{Outcome: Malformed, Envelope: env, Err: err}
	}

	if err := r.apply(env, payload); err != nil {
		r.ignored.Add(1)
		log.Debug().Err(err).Str("event_type", string(env.Type)).Msg("event not applied")
		return Result{Outcome: Ignored, Envelope: env, Err: err}
	}

	r.applied.Add(1)
	log.Debug().Str("event_type", string(env.Type)).Msg("event applied")
	return Result{Outcome: Applied, Envelope: env}
}

func (r *Router) apply(env *events.Envelope, payload interface{}) error {
	switch p := payload.(type) {
	case events.GameStartPayload:
		return r.handleGameStart(p)

	case events.StatementPayload:
		if env.Type == events.TypePlayerStatement {
			return r.handlePlayerStatement(p, env.Timestamp)
		}
		return r.handleAIStatement(p, env.Timestamp)

	case events.PhaseChangePayload:
		target, ok := phase.Parse(p.Phase)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPhase, p.Phase)
		}
		return r.transition(phase.Change(target))

	case events.VoteResultsPayload:
		r.store.ReplaceVotes(p.Votes, p.Counts)
		return nil

	case events.PlayerEliminatedPayload:
		return r.markDead(p.Player, p.Role)

	case events.NightKillPayload:
		return r.markDead(p.Victim, p.Role)

	case events.NewDayPayload:
		if err := r.transition(phase.NewDay(p.Day)); err != nil {
			return err
		}
		r.store.ClearVotes()
		return nil

	case events.GameOverPayload:
		return r.handleGameOver(p)

	default:
		return ErrUnknownType
	}
}

func (r *Router) handleGameStart(p events.GameStartPayload) error {
	roster := make([]state.Participant, 0, len(p.Players))
	for _, pl := range p.Players {
		roster = append(roster, ParticipantFromPayload(pl))
	}
	if err := r.store.StartSession(p.GameID, p.Day, roster); err != nil {
		return err
	}

	if target, ok := phase.Parse(p.Phase); ok {
		current, _ := r.store.Phase()
		if current != target {
			// Phase on a (re)start is a snapshot of the host's view; the
			// machine still refuses to leave game_over.
			_ = r.transition(phase.Change(target))
		}
	}
	return nil
}

func (r *Router) handleAIStatement(p events.StatementPayload, envTimestamp string) error {
	r.store.AppendStatement(state.Statement{
		Author:    p.Player,
		Role:      p.Role,
		Text:      p.Statement,
		Timestamp: r.timestamp(p.Timestamp, envTimestamp),
	})
	return nil
}

func (r *Router) handlePlayerStatement(p events.StatementPayload, envTimestamp string) error {
	st := state.Statement{
		Author:    p.Player,
		Role:      state.HumanRole,
		Text:      p.Statement,
		Timestamp: r.timestamp(p.Timestamp, envTimestamp),
		ClientRef: p.ClientRef,
	}
	if r.store.ConfirmStatement(st) {
		return nil
	}
	st.ClientRef = ""
	r.store.AppendStatement(st)
	return nil
}

func (r *Router) handleGameOver(p events.GameOverPayload) error {
	if !r.store.SetWinner(p.Winner) {
		// Still force the terminal phase; the first winner stands.
		_ = r.transition(phase.End())
		return ErrWinnerFinal
	}
	if err := r.transition(phase.End()); err != nil && !errors.Is(err, ErrTerminal) {
		return err
	}
	return nil
}

func (r *Router) markDead(name, role string) error {
	if !r.store.MarkDead(name, role) {
		return fmt.Errorf("%w: %q", ErrUnknownParticipant, name)
	}
	return nil
}

// transition consults the phase machine and stores its outcome
func (r *Router) transition(t phase.Transition) error {
	current, day := r.store.Phase()
	next := phase.Next(current, day, t)
	if !next.Applied {
		if current.Terminal() {
			return ErrTerminal
		}
		return fmt.Errorf("%s rejected in phase %s", t.Kind, current)
	}
	r.store.SetPhase(next.Phase, next.Day)
	return nil
}

// ParticipantFromPayload converts a host roster entry
func ParticipantFromPayload(p events.PlayerPayload) state.Participant {
	out := state.Participant{
		Name:  p.Name,
		Alive: p.Alive,
		Role:  p.Role,
	}
	if p.EmotionalState != nil {
		e := state.Emotion{
			Anger:      p.EmotionalState.Anger,
			Fear:       p.EmotionalState.Fear,
			Confidence: p.EmotionalState.Confidence,
		}.Clamp()
		out.Emotion = &e
	}
	if len(p.SuspicionScores) > 0 {
		out.Suspicion = make(map[string]float64, len(p.SuspicionScores))
		for k, v := range p.SuspicionScores {
			out.Suspicion[k] = v
		}
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// timestamp parses the host's ISO-8601 time, which usually has no zone.
// Missing or unparsable values fall back to the local clock.
func (r *Router) timestamp(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts
			}
		}
	}
	return r.clock.Now()
}
