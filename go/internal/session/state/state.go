package state

import (
	"time"

	"github.com/mcdev12/deduction/go/internal/session/phase"
)

// HumanRole is the reserved role label attached to remarks made by the
// human participant; the host never reveals a human's role in a remark.
const HumanRole = "human"

// HiddenRole is the label the host uses for roles it withholds
const HiddenRole = "hidden"

// Session represents the identity and progress of the active game
type Session struct {
	ID     string      `json:"game_id"`
	Day    int         `json:"day"`
	Phase  phase.Phase `json:"phase"`
	Turn   int         `json:"turn"`
	Winner *string     `json:"winner"`
	Role   string      `json:"your_role"`
	Self   string      `json:"self"`
}

// Participant represents one player in the session roster
type Participant struct {
	Name      string             `json:"name"`
	Alive     bool               `json:"alive"`
	Role      string             `json:"role"`
	Emotion   *Emotion           `json:"emotional_state,omitempty"`
	Suspicion map[string]float64 `json:"suspicion_scores,omitempty"`
}

// Emotion is the advisory emotional state of a participant. Display only.
type Emotion struct {
	Anger      float64 `json:"anger"`
	Fear       float64 `json:"fear"`
	Confidence float64 `json:"confidence"`
}

// Clamp returns e with every component bounded to [0,1]
func (e Emotion) Clamp() Emotion {
	return Emotion{
		Anger:      clamp01(e.Anger),
		Fear:       clamp01(e.Fear),
		Confidence: clamp01(e.Confidence),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Statement is one entry of the discussion transcript
type Statement struct {
	Author    string    `json:"player"`
	Role      string    `json:"role"`
	Text      string    `json:"statement"`
	Timestamp time.Time `json:"timestamp"`

	// Set on optimistic local echoes until the host's copy arrives
	ClientRef string `json:"client_ref,omitempty"`
	Pending   bool   `json:"pending,omitempty"`
	// Set when the remark could not be written; the host never sees it
	Unsent bool `json:"unsent,omitempty"`
}

// Snapshot is a deep copy of the container at one version
type Snapshot struct {
	Version      uint64            `json:"version"`
	Session      Session           `json:"session"`
	Participants []Participant     `json:"players"`
	Statements   []Statement       `json:"statements"`
	Votes        map[string]string `json:"votes"`
	VoteCounts   map[string]int    `json:"vote_counts,omitempty"`
}

// Active reports whether the snapshot belongs to a started session
func (s Snapshot) Active() bool {
	return s.Session.ID != ""
}

// Participant looks up a roster entry by name
func (s Snapshot) Participant(name string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.Name == name {
			return p, true
		}
	}
	return Participant{}, false
}

// Bootstrap is the initial state returned when a session is created
type Bootstrap struct {
	ID           string
	Day          int
	Phase        phase.Phase
	Role         string
	Self         string
	Participants []Participant
}

// Remote is a full host-side snapshot fetched for recovery or inspection
type Remote struct {
	ID           string
	Day          int
	Phase        phase.Phase
	Turn         int
	Winner       *string
	Participants []Participant
}

func copyParticipant(p Participant) Participant {
	out := p
	if p.Emotion != nil {
		e := *p.Emotion
		out.Emotion = &e
	}
	if p.Suspicion != nil {
		out.Suspicion = make(map[string]float64, len(p.Suspicion))
		for k, v := range p.Suspicion {
			out.Suspicion[k] = v
		}
	}
	return out
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
