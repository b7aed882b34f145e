package state

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/deduction/go/internal/session/phase"
)

var (
	// ErrSessionActive is returned by Begin when a session is already loaded
	ErrSessionActive = errors.New("session already active")
	// ErrSessionMismatch is returned when an event names a different session
	ErrSessionMismatch = errors.New("session id mismatch")
	// ErrNoSession is returned by mutations that need a started session
	ErrNoSession = errors.New("no active session")
)

// Store holds the canonical state of one session.
//
// All mutations are expected to come from a single goroutine (the session
// event loop). The lock only guards readers taking snapshots from other
// goroutines.
type Store struct {
	mu sync.RWMutex

	session      Session
	participants []Participant
	index        map[string]int
	statements   []Statement
	votes        map[string]string
	voteCounts   map[string]int
	version      uint64

	subs    map[int]chan Snapshot
	nextSub int
}

// NewStore creates an empty container
func NewStore() *Store {
	return &Store{
		index: make(map[string]int),
		votes: make(map[string]string),
		subs:  make(map[int]chan Snapshot),
	}
}

// Subscribe registers an observer. The channel always holds the latest
// snapshot only; a slow observer skips intermediate versions. The returned
// func removes the subscription and closes the channel.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 1)
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// Snapshot returns a deep copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// SessionID returns the active session id, or "" when none
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.ID
}

// Phase returns the current phase and day
func (s *Store) Phase() (phase.Phase, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Phase, s.session.Day
}

// Self returns the local participant's name
func (s *Store) Self() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Self
}

// Begin loads the state returned by session bootstrap
func (s *Store) Begin(b Bootstrap) error {
	if b.ID == "" {
		return ErrNoSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.ID != "" {
		return ErrSessionActive
	}

	day := b.Day
	if day < 1 {
		day = 1
	}
	p := b.Phase
	if p == "" {
		p = phase.Initial
	}
	s.session = Session{ID: b.ID, Day: day, Phase: p, Role: b.Role, Self: b.Self}
	s.replaceParticipantsLocked(b.Participants)
	s.changedLocked()
	return nil
}

// StartSession applies a session-start event: id, day and the full roster.
// A session id, once set, never changes until Reset.
func (s *Store) StartSession(id string, day int, roster []Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case id == "" && s.session.ID == "":
		return ErrNoSession
	case id != "" && s.session.ID != "" && id != s.session.ID:
		return ErrSessionMismatch
	case s.session.ID == "":
		s.session.ID = id
		s.session.Phase = phase.Initial
	}
	if day >= 1 {
		s.session.Day = day
	}
	s.replaceParticipantsLocked(roster)
	s.changedLocked()
	return nil
}

// SetPhase stores the outcome of a phase transition
func (s *Store) SetPhase(p phase.Phase, day int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session.Phase = p
	if day >= 1 {
		s.session.Day = day
	}
	s.changedLocked()
}

// SetWinner records the winner. It only succeeds the first time.
func (s *Store) SetWinner(winner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Winner != nil {
		return false
	}
	w := winner
	s.session.Winner = &w
	s.changedLocked()
	return true
}

// AppendStatement adds a transcript entry at the end
func (s *Store) AppendStatement(st Statement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statements = append(s.statements, st)
	s.changedLocked()
}

// ConfirmStatement settles a pending local echo with the host's copy. The
// echo is matched by client ref when the host sent one back, otherwise by
// author and text. Unsent entries are never pending and so never match.
// The entry keeps its position in the transcript.
func (s *Store) ConfirmStatement(host Statement) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, st := range s.statements {
		if !st.Pending {
			continue
		}
		if host.ClientRef != "" {
			if st.ClientRef == host.ClientRef {
				idx = i
				break
			}
			continue
		}
		if st.Author == host.Author && st.Text == host.Text {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	st := &s.statements[idx]
	st.Pending = false
	if !host.Timestamp.IsZero() {
		st.Timestamp = host.Timestamp
	}
	s.changedLocked()
	return true
}

// ReplaceVotes swaps the whole vote tally
func (s *Store) ReplaceVotes(votes map[string]string, counts map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.votes = copyStrings(votes)
	s.voteCounts = copyCounts(counts)
	s.changedLocked()
}

// ClearVotes empties the vote tally
func (s *Store) ClearVotes() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.votes = make(map[string]string)
	s.voteCounts = nil
	s.changedLocked()
}

// MarkDead flips the alive flag of one participant. A non-empty role
// reveals the participant's role label. Unknown names are ignored.
func (s *Store) MarkDead(name, role string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[name]
	if !ok {
		return false
	}
	p := &s.participants[i]
	p.Alive = false
	if role != "" {
		p.Role = role
	}
	s.changedLocked()
	return true
}

// ApplyRemote merges a host snapshot fetched out of band. Advisory fields
// are taken as is; alive flags and the winner keep their monotonic rules.
// Phase and day are only taken when they are not behind the current ones.
func (s *Store) ApplyRemote(r Remote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.ID == "" {
		return ErrNoSession
	}
	if r.ID != "" && r.ID != s.session.ID {
		return ErrSessionMismatch
	}

	if r.Turn > s.session.Turn {
		s.session.Turn = r.Turn
	}
	day := r.Day
	if day < 1 {
		day = s.session.Day
	}
	next := r.Phase
	if next == "" && day > s.session.Day {
		next = phase.DayDiscussion
	}
	if next != "" && phase.Ahead(s.session.Phase, s.session.Day, next, day) {
		s.session.Phase = next
		s.session.Day = day
	} else if next != "" && next != s.session.Phase {
		log.Debug().
			Str("current", string(s.session.Phase)).
			Str("remote", string(next)).
			Int("remote_day", day).
			Msg("ignoring stale phase from host snapshot")
	}
	if r.Winner != nil && s.session.Winner == nil {
		w := *r.Winner
		s.session.Winner = &w
		s.session.Phase = phase.GameOver
	}
	if len(r.Participants) > 0 {
		s.replaceParticipantsLocked(r.Participants)
	}
	s.changedLocked()
	return nil
}

// Reset drops the session and everything scoped to it
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = Session{}
	s.participants = nil
	s.index = make(map[string]int)
	s.statements = nil
	s.votes = make(map[string]string)
	s.voteCounts = nil
	s.changedLocked()
}

// replaceParticipantsLocked installs a full roster. Entries already known
// keep their alive=false and any role or advisory data the new list omits.
func (s *Store) replaceParticipantsLocked(roster []Participant) {
	next := make([]Participant, 0, len(roster))
	index := make(map[string]int, len(roster))

	for _, in := range roster {
		if in.Name == "" {
			continue
		}
		if _, dup := index[in.Name]; dup {
			log.Warn().Str("player", in.Name).Msg("duplicate player in roster, keeping first")
			continue
		}
		p := copyParticipant(in)
		if p.Emotion != nil {
			e := p.Emotion.Clamp()
			p.Emotion = &e
		}
		if i, ok := s.index[p.Name]; ok {
			prev := s.participants[i]
			p.Alive = p.Alive && prev.Alive
			if p.Role == "" || (p.Role == HiddenRole && prev.Role != "") {
				p.Role = prev.Role
			}
			if p.Emotion == nil && prev.Emotion != nil {
				e := *prev.Emotion
				p.Emotion = &e
			}
			if p.Suspicion == nil {
				p.Suspicion = copyParticipant(prev).Suspicion
			}
		}
		index[p.Name] = len(next)
		next = append(next, p)
	}

	s.participants = next
	s.index = index
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:      s.version,
		Session:      s.session,
		Participants: make([]Participant, len(s.participants)),
		Statements:   make([]Statement, len(s.statements)),
		Votes:        copyStrings(s.votes),
		VoteCounts:   copyCounts(s.voteCounts),
	}
	if s.session.Winner != nil {
		w := *s.session.Winner
		snap.Session.Winner = &w
	}
	for i, p := range s.participants {
		snap.Participants[i] = copyParticipant(p)
	}
	copy(snap.Statements, s.statements)
	return snap
}

// changedLocked bumps the version and hands the new snapshot to observers
func (s *Store) changedLocked() {
	s.version++
	if len(s.subs) == 0 {
		return
	}
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.snapshotLocked():
		default:
		}
	}
}
