package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/deduction/go/internal/session/events"
)

type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int
	DuplicateWindow time.Duration
	QueueSize       int // records buffered before Consume starts dropping
	PublishTimeout  time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "SESSION_EVENTS",
		SubjectPrefix:   "session.events",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1, // No limit
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
		QueueSize:       256,
		PublishTimeout:  5 * time.Second,
	}
}

// Record is one applied session event on its way to the stream
type Record struct {
	ID         string
	SessionID  string
	Type       events.Type
	Data       json.RawMessage
	Timestamp  string // host timestamp, when sent
	ReceivedAt time.Time
}

// Stats counts mirror activity
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Publisher republishes applied session events to a JetStream stream so
// spectators and analytics can follow a session. Consume never blocks the
// session loop; records are dropped when the queue is full.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig

	queue chan Record
	newID func() string

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	closeOnce sync.Once
}

func NewPublisher(cfg JetStreamConfig) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("deduction-session-mirror"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := newPublisher(cfg)
	p.nc, p.js = nc, js

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PublishTimeout)
	defer cancel()
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func newPublisher(cfg JetStreamConfig) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultJetStreamConfig().QueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultJetStreamConfig().PublishTimeout
	}
	return &Publisher{
		config: cfg,
		queue:  make(chan Record, cfg.QueueSize),
		newID:  uuid.NewString,
	}
}

func (p *Publisher) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Applied game session events",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	sc := p.streamConfig()

	stream, err := p.js.Stream(ctx, p.config.StreamName)
	if err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().
			Str("stream", p.config.StreamName).
			Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = p.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().
			Str("stream", p.config.StreamName).
			Msg("updated JetStream stream")
	}
	return nil
}

// Consume queues an applied event for publishing
func (p *Publisher) Consume(sessionID string, env events.Envelope) {
	rec := Record{
		ID:         p.newID(),
		SessionID:  sessionID,
		Type:       env.Type,
		Data:       env.Data,
		Timestamp:  env.Timestamp,
		ReceivedAt: time.Now().UTC(),
	}
	select {
	case p.queue <- rec:
	default:
		p.dropped.Add(1)
		log.Warn().
			Str("event_type", string(env.Type)).
			Msg("mirror queue full, dropping event")
	}
}

// Run publishes queued records until ctx is cancelled
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-p.queue:
			pubCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
			if err := p.Publish(pubCtx, rec); err != nil {
				p.failed.Add(1)
				log.Error().Err(err).Str("event_id", rec.ID).Msg("failed to mirror event")
			}
			cancel()
		}
	}
}

// Publish sends one record to the stream
func (p *Publisher) Publish(ctx context.Context, rec Record) error {
	msg, err := p.buildMsg(rec)
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(rec.ID),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}
	p.published.Add(1)

	log.Debug().
		Str("subject", msg.Subject).
		Str("event_id", rec.ID).
		Uint64("sequence", ack.Sequence).
		Str("stream", ack.Stream).
		Msg("mirrored event to JetStream")

	return nil
}

func (p *Publisher) buildMsg(rec Record) (*nats.Msg, error) {
	env := map[string]interface{}{
		"eventId":    rec.ID,
		"eventType":  rec.Type,
		"sessionId":  rec.SessionID,
		"timestamp":  rec.Timestamp,
		"receivedAt": rec.ReceivedAt,
		"payload":    rec.Data,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	return &nats.Msg{
		Subject: Subject(p.config.SubjectPrefix, rec.SessionID, rec.Type),
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(rec.Type)},
			"Session-ID": []string{rec.SessionID},
			"Event-ID":   []string{rec.ID},
		},
	}, nil
}

// Stats returns the mirror counters
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// Connected reports whether the NATS connection is up
func (p *Publisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		if p.nc != nil {
			if err := p.nc.Drain(); err != nil {
				log.Warn().Err(err).Msg("NATS drain failed")
				p.nc.Close()
			}
		}
	})
	return nil
}

// Subject builds <prefix>.<session>.<type>. Session ids are opaque, so
// characters NATS treats as token separators or wildcards are replaced.
func Subject(prefix, sessionID string, t events.Type) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, sessionID)
	if token == "" {
		token = "_"
	}
	return fmt.Sprintf("%s.%s.%s", prefix, token, t)
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates &&
		slices.Equal(a.Subjects, b.Subjects)
}
