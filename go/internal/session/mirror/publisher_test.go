package mirror

import (
	"encoding/json"
	"testing"

	"github.com/mcdev12/deduction/go/internal/session/events"
)

func TestSubject(t *testing.T) {
	cases := []struct {
		session string
		want    string
	}{
		{session: "g1", want: "session.events.g1.new_day"},
		{session: "a.b*c>d", want: "session.events.a_b_c_d.new_day"},
		{session: "", want: "session.events._.new_day"},
	}
	for _, tc := range cases {
		if got := Subject("session.events", tc.session, events.TypeNewDay); got != tc.want {
			t.Fatalf("Subject(%q) = %q, want %q", tc.session, got, tc.want)
		}
	}
}

func TestConsumeDropsWhenFull(t *testing.T) {
	cfg := DefaultJetStreamConfig()
	cfg.QueueSize = 2
	p := newPublisher(cfg)

	env := events.Envelope{Type: events.TypeNewDay, Data: json.RawMessage(`{"day":2}`)}
	for i := 0; i < 5; i++ {
		p.Consume("g1", env)
	}

	if got := len(p.queue); got != 2 {
		t.Fatalf("queued %d records, want 2", got)
	}
	if got := p.Stats().Dropped; got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}
}

func TestBuildMsg(t *testing.T) {
	p := newPublisher(DefaultJetStreamConfig())
	p.newID = func() string { return "evt-1" }

	p.Consume("g1", events.Envelope{
		Type:      events.TypeGameOver,
		Data:      json.RawMessage(`{"winner":"villagers"}`),
		Timestamp: "2024-01-01T10:00:00",
	})
	rec := <-p.queue

	msg, err := p.buildMsg(rec)
	if err != nil {
		t.Fatalf("buildMsg failed: %v", err)
	}
	if msg.Subject != "session.events.g1.game_over" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if msg.Header.Get("Event-ID") != "evt-1" || msg.Header.Get("Session-ID") != "g1" {
		t.Fatalf("unexpected headers %v", msg.Header)
	}

	var body struct {
		EventID   string          `json:"eventId"`
		EventType string          `json:"eventType"`
		Timestamp string          `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		t.Fatalf("message body is not JSON: %v", err)
	}
	if body.EventType != "game_over" || body.Timestamp != "2024-01-01T10:00:00" {
		t.Fatalf("unexpected body %+v", body)
	}
	if string(body.Payload) != `{"winner":"villagers"}` {
		t.Fatalf("payload = %s", body.Payload)
	}
}

func TestStreamConfig(t *testing.T) {
	p := newPublisher(DefaultJetStreamConfig())
	sc := p.streamConfig()
	if len(sc.Subjects) != 1 || sc.Subjects[0] != "session.events.>" {
		t.Fatalf("subjects = %v", sc.Subjects)
	}
	if !isStreamConfigEqual(sc, p.streamConfig()) {
		t.Fatalf("stream config should equal itself")
	}

	cfg := DefaultJetStreamConfig()
	cfg.SubjectPrefix = "game.events"
	moved := newPublisher(cfg).streamConfig()
	if isStreamConfigEqual(sc, moved) {
		t.Fatalf("a changed subject prefix must trigger a stream update")
	}
}
