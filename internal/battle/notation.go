// Package battle parses and serializes troop and battle notation and
// resolves battles phase by phase.
//
// Troop notation lists the count of each of the eight piece archetypes,
// zero-padded to seven digits and separated by slashes:
//
//	0000995/0000020/0000600/0000400/0000030/0000000/0000060/0000020
//
// A battle state is "<attacker> <defender> <finished> <attackerWon>" where the
// last two fields are 0 or 1. A battle log is one state per resolved phase,
// joined by "\n" without a trailing newline.
package battle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// NumArchetypes is the number of piece kinds in a troop.
	NumArchetypes = 8
	// MaxPhases bounds the length of a battle.
	MaxPhases = 8
	// MaxCount is the largest count the canonical notation can hold.
	MaxCount   = 9_999_999
	countWidth = 7
)

// ErrInvalidNotation is wrapped by every parse error.
var ErrInvalidNotation = errors.New("invalid notation")

// Troop holds the number of pieces per archetype, P1 first.
type Troop [NumArchetypes]int

// ParseTroop reads troop notation. Counts may use any number of digits.
func ParseTroop(s string) (Troop, error) {
	var t Troop
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != NumArchetypes {
		return t, fmt.Errorf("%w: troop %q has %d counts, want %d", ErrInvalidNotation, s, len(parts), NumArchetypes)
	}
	for i, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return t, fmt.Errorf("%w: troop count %q is not a number", ErrInvalidNotation, p)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > MaxCount {
			return t, fmt.Errorf("%w: troop count %q out of range", ErrInvalidNotation, p)
		}
		t[i] = n
	}
	return t, nil
}

// String serializes the troop in canonical notation.
func (t Troop) String() string {
	var b strings.Builder
	for i, n := range t {
		if i > 0 {
			b.WriteByte('/')
		}
		fmt.Fprintf(&b, "%0*d", countWidth, n)
	}
	return b.String()
}

// Total returns the number of pieces.
func (t Troop) Total() int {
	sum := 0
	for _, n := range t {
		sum += n
	}
	return sum
}

// Empty reports whether no piece is left.
func (t Troop) Empty() bool {
	return t.Total() == 0
}

// State is one snapshot of a battle.
type State struct {
	Attacker    Troop
	Defender    Troop
	Finished    bool
	AttackerWon bool
}

func parseFlag(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("%w: flag %q must be 0 or 1", ErrInvalidNotation, s)
}

// ParseState reads battle state notation.
func ParseState(s string) (State, error) {
	var st State
	fields := strings.Fields(s)
	if len(fields) != 4 {
		return st, fmt.Errorf("%w: battle state needs 4 fields, got %d", ErrInvalidNotation, len(fields))
	}
	var err error
	if st.Attacker, err = ParseTroop(fields[0]); err != nil {
		return st, fmt.Errorf("attacker: %w", err)
	}
	if st.Defender, err = ParseTroop(fields[1]); err != nil {
		return st, fmt.Errorf("defender: %w", err)
	}
	if st.Finished, err = parseFlag(fields[2]); err != nil {
		return st, err
	}
	if st.AttackerWon, err = parseFlag(fields[3]); err != nil {
		return st, err
	}
	if st.AttackerWon && !st.Finished {
		return st, fmt.Errorf("%w: unfinished battle cannot have a winner", ErrInvalidNotation)
	}
	return st, nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// String serializes the state.
func (s State) String() string {
	return s.Attacker.String() + " " + s.Defender.String() + " " + flag(s.Finished) + " " + flag(s.AttackerWon)
}

// Log is the sequence of states after each phase.
type Log []State

// ParseLog reads battle log notation and checks that only the last state
// may be finished.
func ParseLog(s string) (Log, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty log", ErrInvalidNotation)
	}
	lines := strings.Split(s, "\n")
	if len(lines) > MaxPhases {
		return nil, fmt.Errorf("%w: %d phases exceed the limit of %d", ErrInvalidNotation, len(lines), MaxPhases)
	}
	log := make(Log, 0, len(lines))
	for i, line := range lines {
		st, err := ParseState(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if st.Finished && i != len(lines)-1 {
			return nil, fmt.Errorf("%w: line %d is finished but not last", ErrInvalidNotation, i+1)
		}
		log = append(log, st)
	}
	return log, nil
}

// String serializes the log without a trailing newline.
func (l Log) String() string {
	lines := make([]string, len(l))
	for i, st := range l {
		lines[i] = st.String()
	}
	return strings.Join(lines, "\n")
}

// Last returns the final state; ok is false for an empty log.
func (l Log) Last() (State, bool) {
	if len(l) == 0 {
		return State{}, false
	}
	return l[len(l)-1], true
}
