package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/deduction/go/clients/gameapi"
	"github.com/mcdev12/deduction/go/internal/session/events"
	"github.com/mcdev12/deduction/go/internal/session/gateway"
	"github.com/mcdev12/deduction/go/internal/session/phase"
	"github.com/mcdev12/deduction/go/internal/session/router"
	"github.com/mcdev12/deduction/go/internal/session/state"
)

var (
	// ErrBootstrap wraps every failure to create a session on the host
	ErrBootstrap = errors.New("session bootstrap failed")
	// ErrNotTerminal is returned by Acknowledge before game_over
	ErrNotTerminal = errors.New("session has not reached game_over")
	// ErrStopped is returned once Run has exited
	ErrStopped = errors.New("session client stopped")
	// ErrNoSession is returned by operations that need a started session
	ErrNoSession = state.ErrNoSession
)

// HostAPI is the host's request/response surface
type HostAPI interface {
	NewGame(ctx context.Context, playerName string) (*gameapi.NewGameResponse, error)
	GameState(ctx context.Context, gameID string) (*gameapi.GameStateResponse, error)
	Health(ctx context.Context) (*gameapi.HealthResponse, error)
}

// EventSink observes every applied event. Consume is called on the session
// loop and must not block.
type EventSink interface {
	Consume(sessionID string, env events.Envelope)
}

// Options configures a Client
type Options struct {
	Connection gateway.ConnectionConfig
	Clock      clockwork.Clock
	Sinks      []EventSink
}

// Status describes the client's connection and routing health
type Status struct {
	SessionID  string                  `json:"session_id"`
	ClientID   string                  `json:"client_id"`
	Connection gateway.ConnectionState `json:"connection"`
	Retries    int                     `json:"retries"`
	Exhausted  bool                    `json:"exhausted"`
	LastError  string                  `json:"last_error,omitempty"`
	Events     router.Stats            `json:"events"`
}

// Client owns one active session. Run executes the event loop that applies
// host events and local commands in arrival order; every other method may
// be called from any goroutine.
type Client struct {
	api    HostAPI
	conn   *gateway.Manager
	cmds   *gateway.Commands
	store  *state.Store
	router *router.Router
	clock  clockwork.Clock
	sinks  []EventSink
	newID  func() string

	inbox   chan request
	stopped chan struct{}

	// owned by the loop
	generation uint64

	mu        sync.RWMutex
	clientID  string
	exhausted bool
	lastError string
}

// NewClient creates a session client
func NewClient(api HostAPI, opts Options) *Client {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	store := state.NewStore()
	conn := gateway.NewManager(opts.Connection, clock)

	return &Client{
		api:     api,
		conn:    conn,
		cmds:    gateway.NewCommands(conn),
		store:   store,
		router:  router.NewRouter(store, clock),
		clock:   clock,
		sinks:   opts.Sinks,
		newID:   uuid.NewString,
		inbox:   make(chan request, 16),
		stopped: make(chan struct{}),
	}
}

type request interface{ isRequest() }

type startRequest struct {
	boot  state.Bootstrap
	reply chan error
}

type sayRequest struct {
	text  string
	reply chan sayReply
}

type sayReply struct {
	result gateway.SayResult
	err    error
}

type voteRequest struct {
	target string
	reply  chan voteReply
}

type voteReply struct {
	sent bool
	err  error
}

type remoteRequest struct {
	remote state.Remote
	reply  chan error
}

type resetRequest struct {
	terminalOnly bool
	reply        chan error
}

func (startRequest) isRequest()  {}
func (sayRequest) isRequest()    {}
func (voteRequest) isRequest()   {}
func (remoteRequest) isRequest() {}
func (resetRequest) isRequest()  {}

// Run processes connection signals and requests until ctx is cancelled.
// The connection is torn down on exit.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.stopped)
	defer c.conn.Disconnect()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session loop stopping")
			return ctx.Err()

		case sig := <-c.conn.Signals():
			c.handleSignal(sig)

		case m := <-c.inbox:
			switch req := m.(type) {
			case startRequest:
				req.reply <- c.start(req.boot)

			case sayRequest:
				res, err := c.say(req.text)
				req.reply <- sayReply{result: res, err: err}

			case voteRequest:
				if c.store.SessionID() == "" {
					req.reply <- voteReply{err: ErrNoSession}
					break
				}
				sent, err := c.cmds.Vote(req.target)
				req.reply <- voteReply{sent: sent, err: err}

			case remoteRequest:
				req.reply <- c.applyRemote(req.remote)

			case resetRequest:
				if req.terminalOnly {
					if p, _ := c.store.Phase(); !p.Terminal() {
						req.reply <- ErrNotTerminal
						break
					}
				}
				c.reset()
				req.reply <- nil
			}
		}
	}
}

// Start creates a session on the host and connects to its event stream.
// An active session is reset first.
func (c *Client) Start(ctx context.Context, playerName string) error {
	resp, err := c.api.NewGame(ctx, playerName)
	if err != nil {
		log.Error().Err(err).Str("player", playerName).Msg("failed to create session")
		return fmt.Errorf("%w: %w", ErrBootstrap, err)
	}

	reply := make(chan error, 1)
	if err := c.send(ctx, startRequest{boot: bootstrapFrom(resp, playerName), reply: reply}); err != nil {
		return err
	}
	return c.await(ctx, reply)
}

// Say submits a remark and echoes it locally as pending until the host
// confirms it. A remark that could not be written is echoed as unsent.
func (c *Client) Say(ctx context.Context, text string) (gateway.SayResult, error) {
	reply := make(chan sayReply, 1)
	if err := c.send(ctx, sayRequest{text: text, reply: reply}); err != nil {
		return gateway.SayResult{}, err
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return gateway.SayResult{}, ctx.Err()
	case <-c.stopped:
		return gateway.SayResult{}, ErrStopped
	}
}

// Vote submits a ballot. It reports whether the command was written.
func (c *Client) Vote(ctx context.Context, target string) (bool, error) {
	reply := make(chan voteReply, 1)
	if err := c.send(ctx, voteRequest{target: target, reply: reply}); err != nil {
		return false, err
	}
	select {
	case r := <-reply:
		return r.sent, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.stopped:
		return false, ErrStopped
	}
}

// Refresh fetches the host's full view of the session and merges it
func (c *Client) Refresh(ctx context.Context) error {
	id := c.store.SessionID()
	if id == "" {
		return ErrNoSession
	}
	resp, err := c.api.GameState(ctx, id)
	if err != nil {
		return fmt.Errorf("refresh session %s: %w", id, err)
	}

	reply := make(chan error, 1)
	if err := c.send(ctx, remoteRequest{remote: remoteFrom(resp), reply: reply}); err != nil {
		return err
	}
	return c.await(ctx, reply)
}

// Ping checks that the host is reachable
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.api.Health(ctx)
	if err != nil {
		return err
	}
	log.Debug().Str("status", resp.Status).Msg("host health")
	return nil
}

// Reset disconnects and drops the session
func (c *Client) Reset(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, resetRequest{reply: reply}); err != nil {
		return err
	}
	return c.await(ctx, reply)
}

// Acknowledge dismisses a finished session. It fails with ErrNotTerminal
// while the session is still in progress.
func (c *Client) Acknowledge(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, resetRequest{terminalOnly: true, reply: reply}); err != nil {
		return err
	}
	return c.await(ctx, reply)
}

// Snapshot returns a deep copy of the current session state
func (c *Client) Snapshot() state.Snapshot {
	return c.store.Snapshot()
}

// Subscribe registers a latest-wins snapshot observer
func (c *Client) Subscribe() (<-chan state.Snapshot, func()) {
	return c.store.Subscribe()
}

// Status returns connection and routing health
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		SessionID:  c.store.SessionID(),
		ClientID:   c.clientID,
		Connection: c.conn.State(),
		Retries:    c.conn.Retries(),
		Exhausted:  c.exhausted,
		LastError:  c.lastError,
		Events:     c.router.Stats(),
	}
}

func (c *Client) send(ctx context.Context, req request) error {
	select {
	case c.inbox <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

func (c *Client) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

func (c *Client) start(boot state.Bootstrap) error {
	if c.store.SessionID() != "" {
		log.Info().Str("session_id", c.store.SessionID()).Msg("replacing active session")
		c.reset()
	}
	if err := c.store.Begin(boot); err != nil {
		return fmt.Errorf("%w: %w", ErrBootstrap, err)
	}

	clientID := c.newID()
	if err := c.conn.Connect(boot.ID, clientID); err != nil {
		c.store.Reset()
		return fmt.Errorf("%w: %w", ErrBootstrap, err)
	}
	c.generation = c.conn.Generation()

	c.mu.Lock()
	c.clientID = clientID
	c.exhausted = false
	c.lastError = ""
	c.mu.Unlock()

	log.Info().
		Str("session_id", boot.ID).
		Str("client_id", clientID).
		Str("role", boot.Role).
		Int("players", len(boot.Participants)).
		Msg("session started")
	return nil
}

func (c *Client) say(text string) (gateway.SayResult, error) {
	self := c.store.Self()
	if c.store.SessionID() == "" {
		return gateway.SayResult{}, ErrNoSession
	}
	res, err := c.cmds.Say(text)
	if err != nil {
		return res, err
	}
	c.store.AppendStatement(state.Statement{
		Author:    self,
		Role:      state.HumanRole,
		Text:      text,
		Timestamp: c.clock.Now(),
		ClientRef: res.ClientRef,
		Pending:   res.Sent,
		Unsent:    !res.Sent,
	})
	return res, nil
}

func (c *Client) applyRemote(remote state.Remote) error {
	if err := c.store.ApplyRemote(remote); err != nil {
		return err
	}
	if remote.Winner != nil {
		c.conn.SuppressReconnect()
	}
	return nil
}

func (c *Client) reset() {
	c.conn.Disconnect()
	c.generation = 0
	c.store.Reset()

	c.mu.Lock()
	c.clientID = ""
	c.exhausted = false
	c.lastError = ""
	c.mu.Unlock()
	log.Info().Msg("session reset")
}

func (c *Client) handleSignal(sig gateway.Signal) {
	if sig.Generation != c.generation {
		log.Debug().
			Uint64("generation", sig.Generation).
			Uint64("current", c.generation).
			Msg("dropping signal from stale connection")
		return
	}

	switch sig.Kind {
	case gateway.SignalState:
		log.Debug().Str("state", string(sig.State)).Msg("connection state changed")

	case gateway.SignalError:
		c.mu.Lock()
		c.lastError = sig.Err.Error()
		c.mu.Unlock()

	case gateway.SignalExhausted:
		c.mu.Lock()
		c.exhausted = true
		c.lastError = sig.Err.Error()
		c.mu.Unlock()
		log.Error().Str("session_id", c.store.SessionID()).Msg("host connection lost, session state kept")

	case gateway.SignalMessage:
		res := c.router.Route(sig.Payload)
		if p, _ := c.store.Phase(); p.Terminal() {
			// The host closes the stream once a game ends
			c.conn.SuppressReconnect()
		}
		if res.Outcome == router.Applied {
			c.publish(*res.Envelope)
		}
	}
}

func (c *Client) publish(env events.Envelope) {
	id := c.store.SessionID()
	for _, sink := range c.sinks {
		sink.Consume(id, env)
	}
}

func bootstrapFrom(resp *gameapi.NewGameResponse, self string) state.Bootstrap {
	p, ok := phase.Parse(resp.Phase)
	if !ok {
		p = phase.Initial
	}
	roster := make([]state.Participant, 0, len(resp.Players))
	for _, pl := range resp.Players {
		roster = append(roster, router.ParticipantFromPayload(pl))
	}
	return state.Bootstrap{
		ID:           resp.GameID,
		Day:          resp.Day,
		Phase:        p,
		Role:         resp.YourRole,
		Self:         self,
		Participants: roster,
	}
}

func remoteFrom(resp *gameapi.GameStateResponse) state.Remote {
	p, _ := phase.Parse(resp.Phase)
	roster := make([]state.Participant, 0, len(resp.Players))
	for _, pl := range resp.Players {
		roster = append(roster, router.ParticipantFromPayload(pl))
	}
	return state.Remote{
		ID:           resp.GameID,
		Day:          resp.Day,
		Phase:        p,
		Turn:         resp.Turn,
		Winner:       resp.Winner,
		Participants: roster,
	}
}
