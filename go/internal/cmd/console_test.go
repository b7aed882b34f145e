package main

import (
	"errors"
	"testing"

	"github.com/mcdev12/deduction/go/internal/session/phase"
	"github.com/mcdev12/deduction/go/internal/session/state"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{line: "say I trust Bob", want: command{kind: cmdSay, arg: "I trust Bob"}},
		{line: "  SAY   hello  ", want: command{kind: cmdSay, arg: "hello"}},
		{line: "vote Bob", want: command{kind: cmdVote, arg: "Bob"}},
		{line: "refresh", want: command{kind: cmdRefresh}},
		{line: "status", want: command{kind: cmdStatus}},
		{line: "ack", want: command{kind: cmdAck}},
		{line: "exit", want: command{kind: cmdQuit}},
		{line: "say", wantErr: true},
		{line: "vote ", wantErr: true},
		{line: "dance", wantErr: true},
	}

	for _, tc := range cases {
		got, err := parseCommand(tc.line)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.line)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.line, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %+v, want %+v", tc.line, got, tc.want)
		}
	}

	if _, err := parseCommand("dance"); !errors.Is(err, errUnknownCommand) {
		t.Fatalf("expected errUnknownCommand, got %v", err)
	}
}

func TestLoadConfigFlagsWin(t *testing.T) {
	t.Setenv("DEDUCTION_PLAYER_NAME", "FromEnv")
	cfg, err := loadConfig([]string{"--name", "FromFlag", "--host", "https://game.example.com"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Player.Name != "FromFlag" {
		t.Fatalf("name = %q", cfg.Player.Name)
	}

	cc, err := connectionConfig(cfg)
	if err != nil {
		t.Fatalf("connectionConfig: %v", err)
	}
	if cc.BaseURL != "wss://game.example.com" || cc.MaxReconnects != 5 {
		t.Fatalf("unexpected connection config %+v", cc)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	if _, err := loadConfig([]string{"--max-reconnects", "-3"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLogChangesHandlesReset(t *testing.T) {
	winner := "wolves"
	prev := state.Snapshot{
		Session:    state.Session{ID: "g1", Phase: phase.GameOver, Winner: &winner},
		Statements: []state.Statement{{Author: "Bob", Text: "a"}, {Author: "Cara", Text: "b"}},
	}
	next := state.Snapshot{
		Session:    state.Session{ID: "g2", Phase: phase.DayDiscussion, Day: 1},
		Statements: []state.Statement{{Author: "Dan", Text: "c"}},
	}
	// must not slice out of range when the transcript restarts
	logChanges(prev, next)
	logChanges(next, state.Snapshot{})
}
