package phase

// Phase is the current stage of a game day
type Phase string

const (
	DayDiscussion Phase = "day_discussion"
	Voting        Phase = "voting"
	NightAction   Phase = "night_action"
	GameOver      Phase = "game_over"
)

// Initial is the phase every new session starts in
const Initial = DayDiscussion

// Parse converts a wire value to a Phase. The host announces the night
// phase as "night" on phase_change events and as "night_action" everywhere
// else, so both spellings are accepted.
func Parse(value string) (Phase, bool) {
	switch value {
	case string(DayDiscussion):
		return DayDiscussion, true
	case string(Voting):
		return Voting, true
	case string(NightAction), "night":
		return NightAction, true
	case string(GameOver):
		return GameOver, true
	default:
		return "", false
	}
}

// Terminal reports whether no transition can leave p
func (p Phase) Terminal() bool {
	return p == GameOver
}

func (p Phase) order() int {
	switch p {
	case DayDiscussion:
		return 1
	case Voting:
		return 2
	case NightAction:
		return 3
	case GameOver:
		return 4
	default:
		return 0
	}
}

// Ahead reports whether next/nextDay lies at or after current/day. A later
// day is always ahead; within a day phases run discussion, voting, night.
// Out-of-band snapshots use it to ignore stale reads.
func Ahead(current Phase, day int, next Phase, nextDay int) bool {
	if next.order() == 0 || current.Terminal() {
		return false
	}
	if nextDay != day {
		return nextDay > day
	}
	return next.order() >= current.order()
}

// Kind identifies which transition an event implies
type Kind int

const (
	KindNewDay Kind = iota + 1
	KindPhaseChange
	KindGameOver
)

func (k Kind) String() string {
	switch k {
	case KindNewDay:
		return "new_day"
	case KindPhaseChange:
		return "phase_change"
	case KindGameOver:
		return "game_over"
	default:
		return "unknown"
	}
}

// Transition is the phase-relevant part of an inbound event
type Transition struct {
	Kind   Kind
	Target Phase // KindPhaseChange only
	Day    int   // KindNewDay only
}

// NewDay builds the transition carried by a new_day event
func NewDay(day int) Transition {
	return Transition{Kind: KindNewDay, Day: day}
}

// Change builds the transition carried by a phase_change event
func Change(target Phase) Transition {
	return Transition{Kind: KindPhaseChange, Target: target}
}

// End builds the transition implied by a winner declaration
func End() Transition {
	return Transition{Kind: KindGameOver}
}

// Result is the outcome of applying a transition
type Result struct {
	Phase   Phase
	Day     int
	Applied bool
}

// Next computes the phase and day that follow current once t is applied.
//
// The host is authoritative: phase_change targets are not checked for
// legality and new_day carries the absolute day number. The only rule the
// machine enforces itself is that game_over is terminal; once there, every
// transition is rejected and Applied is false.
func Next(current Phase, day int, t Transition) Result {
	if current == "" {
		current = Initial
	}
	unchanged := Result{Phase: current, Day: day}
	if current.Terminal() {
		return unchanged
	}

	switch t.Kind {
	case KindNewDay:
		next := Result{Phase: DayDiscussion, Day: day, Applied: true}
		if t.Day >= 1 {
			next.Day = t.Day
		}
		return next

	case KindPhaseChange:
		if _, ok := Parse(string(t.Target)); !ok {
			return unchanged
		}
		return Result{Phase: t.Target, Day: day, Applied: true}

	case KindGameOver:
		return Result{Phase: GameOver, Day: day, Applied: true}

	default:
		return unchanged
	}
}
