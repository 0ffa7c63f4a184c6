package battle

import (
	"errors"
	"math"
	"math/rand"

	"lnm/internal/logging"
)

// Solver errors.
var (
	ErrAlreadyFinished = errors.New("battle already finished")
	ErrEmptyTroop      = errors.New("both sides need pieces to fight")
)

// Damage rolls are scaled by a factor drawn uniformly from this range.
const (
	minRoll = 0.8
	maxRoll = 1.2
)

// Result is a solved battle.
type Result struct {
	Log         Log
	AttackerWon bool
}

// Solve fights from initial until one side is wiped out or MaxPhases have
// been played. Each phase has a ranged volley then a melee exchange; within
// each step the side with the higher average speed strikes first and its
// casualties are applied before the other side answers. Damage is spread
// over the enemy in proportion to its counts. A battle still undecided after
// the last phase is a defender win.
func Solve(initial State, rng *rand.Rand) (Result, error) {
	if initial.Finished {
		return Result{}, ErrAlreadyFinished
	}
	if initial.Attacker.Empty() || initial.Defender.Empty() {
		return Result{}, ErrEmptyTroop
	}

	att, def := initial.Attacker, initial.Defender
	log := make(Log, 0, MaxPhases)
	for phase := 1; phase <= MaxPhases; phase++ {
		attackerFirst := strikesFirst(att, def, rng)
		for _, ranged := range []bool{true, false} {
			if attackerFirst {
				def = strike(att, def, ranged, rng)
				att = strike(def, att, ranged, rng)
			} else {
				att = strike(def, att, ranged, rng)
				def = strike(att, def, ranged, rng)
			}
		}

		st := State{Attacker: att, Defender: def}
		if att.Empty() || def.Empty() || phase == MaxPhases {
			st.Finished = true
			st.AttackerWon = def.Empty() && !att.Empty()
		}
		logging.BattleDebug("phase %d: %s", phase, st)
		log = append(log, st)
		if st.Finished {
			logging.Battle("battle solved in %d phases, attacker won: %v", phase, st.AttackerWon)
			return Result{Log: log, AttackerWon: st.AttackerWon}, nil
		}
	}
	// unreachable: the last phase is always finished
	return Result{Log: log}, nil
}

// averageSpeed weights archetype speed by count.
func averageSpeed(t Troop) float64 {
	total := t.Total()
	if total == 0 {
		return 0
	}
	sum := 0
	for i, n := range t {
		sum += n * Archetypes[i].Speed
	}
	return float64(sum) / float64(total)
}

func strikesFirst(att, def Troop, rng *rand.Rand) bool {
	a, d := averageSpeed(att), averageSpeed(def)
	if a == d {
		return rng.Intn(2) == 0
	}
	return a > d
}

// strike applies the damage of from's ranged or melee pieces to target and
// returns what is left of target.
func strike(from, target Troop, ranged bool, rng *rand.Rand) Troop {
	power := 0
	for i, n := range from {
		if Archetypes[i].Ranged == ranged {
			power += n * Archetypes[i].Attack
		}
	}
	total := target.Total()
	if power == 0 || total == 0 {
		return target
	}

	damage := float64(power) * (minRoll + rng.Float64()*(maxRoll-minRoll))
	for i, n := range target {
		if n == 0 {
			continue
		}
		share := damage * float64(n) / float64(total)
		killed := int(math.Floor(share / float64(Archetypes[i].Defense)))
		if killed > n {
			killed = n
		}
		target[i] = n - killed
	}
	return target
}
