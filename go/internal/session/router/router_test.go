package router

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/deduction/go/internal/session/phase"
	"github.com/mcdev12/deduction/go/internal/session/state"
)

func newScenario(t *testing.T) (*Router, *state.Store) {
	t.Helper()
	store := state.NewStore()
	err := store.Begin(state.Bootstrap{
		ID:    "g1",
		Day:   1,
		Phase: phase.DayDiscussion,
		Role:  "villager",
		Self:  "A",
		Participants: []state.Participant{
			{Name: "A", Alive: true, Role: "villager"},
			{Name: "B", Alive: true, Role: state.HiddenRole},
			{Name: "C", Alive: true, Role: state.HiddenRole},
		},
	})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))
	return NewRouter(store, clock), store
}

func route(t *testing.T, r *Router, raw string) Result {
	t.Helper()
	return r.Route([]byte(raw))
}

func TestScenarioG1(t *testing.T) {
	r, store := newScenario(t)

	snap := store.Snapshot()
	if snap.Session.ID != "g1" || snap.Session.Day != 1 || snap.Session.Phase != phase.DayDiscussion || snap.Session.Role != "villager" {
		t.Fatalf("bootstrap not reflected: %+v", snap.Session)
	}

	if res := route(t, r, `{"type":"vote_results","data":{"votes":{"A":"B","C":"B"}}}`); res.Outcome != Applied {
		t.Fatalf("vote_results: %v (%v)", res.Outcome, res.Err)
	}
	snap = store.Snapshot()
	if len(snap.Votes) != 2 || snap.Votes["A"] != "B" || snap.Votes["C"] != "B" {
		t.Fatalf("unexpected tally: %v", snap.Votes)
	}
	for _, p := range snap.Participants {
		if !p.Alive {
			t.Fatalf("%s should still be alive", p.Name)
		}
	}

	if res := route(t, r, `{"type":"player_eliminated","data":{"player":"B"}}`); res.Outcome != Applied {
		t.Fatalf("player_eliminated: %v (%v)", res.Outcome, res.Err)
	}
	snap = store.Snapshot()
	for _, p := range snap.Participants {
		if want := p.Name != "B"; p.Alive != want {
			t.Fatalf("%s alive = %v, want %v", p.Name, p.Alive, want)
		}
	}

	if res := route(t, r, `{"type":"new_day","data":{"day":2}}`); res.Outcome != Applied {
		t.Fatalf("new_day: %v (%v)", res.Outcome, res.Err)
	}
	snap = store.Snapshot()
	if snap.Session.Day != 2 || snap.Session.Phase != phase.DayDiscussion || len(snap.Votes) != 0 {
		t.Fatalf("new day not applied: %+v votes=%v", snap.Session, snap.Votes)
	}

	if res := route(t, r, `{"type":"game_over","data":{"winner":"villagers"}}`); res.Outcome != Applied {
		t.Fatalf("game_over: %v (%v)", res.Outcome, res.Err)
	}
	snap = store.Snapshot()
	if snap.Session.Winner == nil || *snap.Session.Winner != "villagers" || snap.Session.Phase != phase.GameOver {
		t.Fatalf("game over not applied: %+v", snap.Session)
	}

	res := route(t, r, `{"type":"phase_change","data":{"phase":"voting"}}`)
	if res.Outcome != Ignored || !errors.Is(res.Err, ErrTerminal) {
		t.Fatalf("phase_change after game over: %v (%v)", res.Outcome, res.Err)
	}
	if got := store.Snapshot().Session.Phase; got != phase.GameOver {
		t.Fatalf("phase moved away from game_over: %q", got)
	}
}

func TestRouteOutcomes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Outcome
	}{
		{"not json", `{{{`, Malformed},
		{"missing type", `{"data":{}}`, Malformed},
		{"bad payload", `{"type":"new_day","data":{"day":"x"}}`, Malformed},
		{"unknown type", `{"type":"player_vote","data":{"player":"A","target":"B"}}`, Ignored},
		{"unknown victim", `{"type":"night_kill","data":{"victim":"Zed"}}`, Ignored},
		{"unknown phase", `{"type":"phase_change","data":{"phase":"brunch"}}`, Ignored},
		{"night alias", `{"type":"phase_change","data":{"phase":"night"}}`, Applied},
		{"ai remark", `{"type":"ai_statement","data":{"player":"B","role":"wolf","statement":"hi","timestamp":"2026-10-18T12:00:01.5"}}`, Applied},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, store := newScenario(t)
			before := store.Snapshot()
			res := route(t, r, tc.raw)
			if res.Outcome != tc.want {
				t.Fatalf("outcome = %v, want %v (err %v)", res.Outcome, tc.want, res.Err)
			}
			if tc.want != Applied && store.Snapshot().Version != before.Version {
				t.Fatalf("state mutated by %s payload", tc.want)
			}
		})
	}
}

func TestStats(t *testing.T) {
	r, _ := newScenario(t)
	route(t, r, `nope`)
	route(t, r, `{"type":"weather","data":{}}`)
	route(t, r, `{"type":"new_day","data":{"day":2}}`)

	got := r.Stats()
	if got.Applied != 1 || got.Ignored != 1 || got.Malformed != 1 {
		t.Fatalf("unexpected stats: %+v", got)
	}
}

func TestNightKillRevealsRole(t *testing.T) {
	r, store := newScenario(t)
	route(t, r, `{"type":"night_kill","data":{"victim":"C","role":"villager"}}`)

	c, _ := store.Snapshot().Participant("C")
	if c.Alive || c.Role != "villager" {
		t.Fatalf("unexpected C: %+v", c)
	}
}

func TestPlayerStatementReconcilesLocalEcho(t *testing.T) {
	r, store := newScenario(t)
	store.AppendStatement(state.Statement{Author: "A", Role: state.HumanRole, Text: "B is lying", ClientRef: "ref-1", Pending: true})
	route(t, r, `{"type":"ai_statement","data":{"player":"B","role":"wolf","statement":"no I am not"}}`)

	res := route(t, r, `{"type":"player_statement","data":{"player":"A","statement":"B is lying","timestamp":"2026-10-18T12:00:03"}}`)
	if res.Outcome != Applied {
		t.Fatalf("player_statement: %v (%v)", res.Outcome, res.Err)
	}

	snap := store.Snapshot()
	if len(snap.Statements) != 2 {
		t.Fatalf("expected echo to be reconciled, got %d statements", len(snap.Statements))
	}
	if snap.Statements[0].Pending || snap.Statements[0].Text != "B is lying" {
		t.Fatalf("echo not settled: %+v", snap.Statements[0])
	}
	want := time.Date(2026, 10, 18, 12, 0, 3, 0, time.UTC)
	if !snap.Statements[0].Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", snap.Statements[0].Timestamp, want)
	}

	// A remark by the same author with no pending echo is a new entry
	route(t, r, `{"type":"player_statement","data":{"player":"A","statement":"B is lying"}}`)
	snap = store.Snapshot()
	if len(snap.Statements) != 3 || snap.Statements[2].Role != state.HumanRole {
		t.Fatalf("expected appended human remark, got %+v", snap.Statements)
	}
}

func TestRepeatedGameOverKeepsFirstWinner(t *testing.T) {
	r, store := newScenario(t)
	route(t, r, `{"type":"game_over","data":{"winner":"wolves"}}`)
	res := route(t, r, `{"type":"game_over","data":{"winner":"villagers"}}`)
	if res.Outcome != Ignored {
		t.Fatalf("second game_over should be ignored, got %v", res.Outcome)
	}
	if w := store.Snapshot().Session.Winner; w == nil || *w != "wolves" {
		t.Fatalf("winner changed: %v", w)
	}
}

func TestGameStartOnReconnect(t *testing.T) {
	r, store := newScenario(t)
	route(t, r, `{"type":"player_eliminated","data":{"player":"B","role":"wolf"}}`)

	res := route(t, r, `{"type":"game_start","data":{"game_id":"g1","day":3,"phase":"night_action","players":[{"name":"A","alive":true},{"name":"B","alive":true},{"name":"C","alive":false}]}}`)
	if res.Outcome != Applied {
		t.Fatalf("game_start: %v (%v)", res.Outcome, res.Err)
	}
	snap := store.Snapshot()
	if snap.Session.Day != 3 || snap.Session.Phase != phase.NightAction {
		t.Fatalf("unexpected session: %+v", snap.Session)
	}
	b, _ := snap.Participant("B")
	c, _ := snap.Participant("C")
	if b.Alive || c.Alive {
		t.Fatalf("alive flags: B=%v C=%v", b.Alive, c.Alive)
	}

	res = route(t, r, `{"type":"game_start","data":{"game_id":"g9","day":1,"phase":"day_discussion","players":[]}}`)
	if res.Outcome != Ignored || !errors.Is(res.Err, state.ErrSessionMismatch) {
		t.Fatalf("foreign game_start: %v (%v)", res.Outcome, res.Err)
	}
}

// Random event sequences must never shrink the transcript, revive a
// participant or change a declared winner.
func TestInvariantsUnderRandomSequences(t *testing.T) {
	names := []string{"A", "B", "C", "Zed"}
	phases := []string{"day_discussion", "voting", "night", "night_action", "game_over", "bogus"}
	winners := []string{"villagers", "wolves"}

	rng := rand.New(rand.NewSource(42))
	gen := func() string {
		switch rng.Intn(10) {
		case 0:
			return fmt.Sprintf(`{"type":"ai_statement","data":{"player":%q,"role":"wolf","statement":"s%d"}}`, names[rng.Intn(len(names))], rng.Int())
		case 1:
			return fmt.Sprintf(`{"type":"player_statement","data":{"player":"A","statement":"s%d"}}`, rng.Int())
		case 2:
			return fmt.Sprintf(`{"type":"phase_change","data":{"phase":%q}}`, phases[rng.Intn(len(phases))])
		case 3:
			return fmt.Sprintf(`{"type":"vote_results","data":{"votes":{%q:%q}}}`, names[rng.Intn(len(names))], names[rng.Intn(len(names))])
		case 4:
			return fmt.Sprintf(`{"type":"player_eliminated","data":{"player":%q}}`, names[rng.Intn(len(names))])
		case 5:
			return fmt.Sprintf(`{"type":"night_kill","data":{"victim":%q}}`, names[rng.Intn(len(names))])
		case 6:
			return fmt.Sprintf(`{"type":"new_day","data":{"day":%d}}`, rng.Intn(6))
		case 7:
			return fmt.Sprintf(`{"type":"game_over","data":{"winner":%q}}`, winners[rng.Intn(len(winners))])
		case 8:
			return `{"type":"game_start","data":{"game_id":"g1","day":2,"phase":"voting","players":[{"name":"A","alive":true},{"name":"B","alive":true},{"name":"C","alive":true}]}}`
		default:
			return `garbage`
		}
	}

	for run := 0; run < 50; run++ {
		r, store := newScenario(t)
		prev := store.Snapshot()
		dead := map[string]bool{}
		var winner *string

		for step := 0; step < 60; step++ {
			raw := gen()
			res := r.Route([]byte(raw))
			snap := store.Snapshot()

			if len(snap.Statements) < len(prev.Statements) {
				t.Fatalf("transcript shrank after %s", raw)
			}
			for i := range prev.Statements {
				if snap.Statements[i].Text != prev.Statements[i].Text {
					t.Fatalf("transcript reordered after %s", raw)
				}
			}
			for _, p := range snap.Participants {
				if dead[p.Name] && p.Alive {
					t.Fatalf("%s revived after %s", p.Name, raw)
				}
				if !p.Alive {
					dead[p.Name] = true
				}
			}
			if winner != nil {
				if snap.Session.Winner == nil || *snap.Session.Winner != *winner {
					t.Fatalf("winner changed after %s", raw)
				}
				if snap.Session.Phase != phase.GameOver {
					t.Fatalf("left game_over after %s", raw)
				}
			}
			if snap.Session.Winner != nil {
				w := *snap.Session.Winner
				winner = &w
			}
			if res.Outcome == Applied && res.Envelope.Type == "new_day" && winner == nil && snap.Session.Phase != phase.DayDiscussion {
				t.Fatalf("new_day did not land on day_discussion")
			}
			prev = snap
		}
	}
}
