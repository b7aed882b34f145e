package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/deduction/go/internal/session"
	"github.com/mcdev12/deduction/go/internal/session/state"
)

var errUnknownCommand = errors.New("unknown command")

type commandKind int

const (
	cmdSay commandKind = iota + 1
	cmdVote
	cmdRefresh
	cmdStatus
	cmdAck
	cmdQuit
)

type command struct {
	kind commandKind
	arg  string
}

// parseCommand reads one console line: say <text>, vote <name>, refresh,
// status, ack or quit
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "say":
		if rest == "" {
			return command{}, fmt.Errorf("say needs a remark")
		}
		return command{kind: cmdSay, arg: rest}, nil
	case "vote":
		if rest == "" {
			return command{}, fmt.Errorf("vote needs a target")
		}
		return command{kind: cmdVote, arg: rest}, nil
	case "refresh":
		return command{kind: cmdRefresh}, nil
	case "status":
		return command{kind: cmdStatus}, nil
	case "ack":
		return command{kind: cmdAck}, nil
	case "quit", "exit":
		return command{kind: cmdQuit}, nil
	default:
		return command{}, fmt.Errorf("%w: %q", errUnknownCommand, verb)
	}
}

// runConsole executes console commands until quit, EOF or ctx ends
func runConsole(ctx context.Context, client *session.Client, in io.Reader, quit func()) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := parseCommand(line)
			if err != nil {
				log.Warn().Err(err).Msg("commands: say <text>, vote <name>, refresh, status, ack, quit")
				continue
			}
			if cmd.kind == cmdQuit {
				quit()
				return
			}
			execute(ctx, client, cmd)
		}
	}
}

func execute(ctx context.Context, client *session.Client, cmd command) {
	switch cmd.kind {
	case cmdSay:
		res, err := client.Say(ctx, cmd.arg)
		if err != nil {
			log.Error().Err(err).Msg("say failed")
			return
		}
		if !res.Sent {
			log.Warn().Msg("not connected, remark kept locally only")
		}
	case cmdVote:
		sent, err := client.Vote(ctx, cmd.arg)
		if err != nil {
			log.Error().Err(err).Msg("vote failed")
			return
		}
		if !sent {
			log.Warn().Str("target", cmd.arg).Msg("not connected, vote dropped")
		}
	case cmdRefresh:
		if err := client.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("refresh failed")
		}
	case cmdStatus:
		st := client.Status()
		log.Info().
			Str("session_id", st.SessionID).
			Str("connection", string(st.Connection)).
			Int("retries", st.Retries).
			Bool("exhausted", st.Exhausted).
			Uint64("applied", st.Events.Applied).
			Uint64("ignored", st.Events.Ignored).
			Uint64("malformed", st.Events.Malformed).
			Msg("status")
	case cmdAck:
		if err := client.Acknowledge(ctx); err != nil {
			log.Warn().Err(err).Msg("acknowledge failed")
		}
	}
}

// watchSnapshots logs what changed between consecutive snapshots
func watchSnapshots(ctx context.Context, snapshots <-chan state.Snapshot) {
	var prev state.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			logChanges(prev, snap)
			prev = snap
		}
	}
}

func logChanges(prev, next state.Snapshot) {
	if !next.Active() {
		if prev.Active() {
			log.Info().Msg("session closed")
		}
		return
	}
	if prev.Session.ID != next.Session.ID {
		log.Info().
			Str("session_id", next.Session.ID).
			Str("role", next.Session.Role).
			Int("players", len(next.Participants)).
			Msg("joined session")
	}
	if prev.Session.Phase != next.Session.Phase || prev.Session.Day != next.Session.Day {
		log.Info().
			Int("day", next.Session.Day).
			Str("phase", string(next.Session.Phase)).
			Msg("phase")
	}

	start := len(prev.Statements)
	if prev.Session.ID != next.Session.ID || start > len(next.Statements) {
		start = 0
	}
	for _, st := range next.Statements[start:] {
		log.Info().Str("player", st.Author).Bool("pending", st.Pending).Bool("unsent", st.Unsent).Msg(st.Text)
	}

	for _, p := range next.Participants {
		if before, ok := prev.Participant(p.Name); ok && before.Alive && !p.Alive {
			log.Info().Str("player", p.Name).Str("role", p.Role).Msg("eliminated")
		}
	}
	if next.Session.Winner != nil && prev.Session.Winner == nil {
		log.Info().Str("winner", *next.Session.Winner).Msg("game over, type ack to leave")
	}
}
