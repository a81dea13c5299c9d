// Package rules holds the game-type catalog, game-id validation, and the
// resolution of a random outcome into winning seats.
package rules

import (
	"regexp"
	"sort"
	"strings"

	"github.com/atmx/wager-engine/internal/model"
)

// Spec describes one supported game type.
type Spec struct {
	Type        model.GameType `json:"type"`
	MinPlayers  int            `json:"min_players"`
	MaxPlayers  int            `json:"max_players"`
	Description string         `json:"description"`
}

// Variable reports whether the game can start before it is full.
func (s Spec) Variable() bool {
	return s.MinPlayers < s.MaxPlayers
}

var catalog = map[model.GameType]Spec{
	model.GameTypeCoinFlip: {model.GameTypeCoinFlip, 2, 2, "two players; outcome parity picks the winner"},
	model.GameTypeDice:     {model.GameTypeDice, 2, 2, "two players each roll 1-6; highest wins, ties split"},
	model.GameTypeLottery:  {model.GameTypeLottery, 2, 10, "up to ten seats; outcome modulo seats picks one winner"},
	model.GameTypeHighRoll: {model.GameTypeHighRoll, 2, 6, "up to six players each roll 1-6; highest wins, ties split"},
}

// gameIDRegex bounds ids to 32 URL- and key-safe bytes.
var gameIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// ValidateGameID checks a caller-supplied game id.
func ValidateGameID(id string) error {
	if !gameIDRegex.MatchString(id) {
		return model.ErrInvalidGameID.With("%q (expected 1-32 characters of A-Z a-z 0-9 _ -)", id)
	}
	return nil
}

// Lookup returns the spec for t.
func Lookup(t model.GameType) (Spec, error) {
	spec, ok := catalog[t]
	if !ok {
		return Spec{}, model.ErrInvalidGameType.With("%q", t)
	}
	return spec, nil
}

// ParseGameType resolves a case-insensitive type name.
func ParseGameType(s string) (Spec, error) {
	return Lookup(model.GameType(strings.ToLower(strings.TrimSpace(s))))
}

// Catalog lists every supported type, ordered by name.
func Catalog() []Spec {
	out := make([]Spec, 0, len(catalog))
	for _, s := range catalog {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Result is the resolution of one outcome.
type Result struct {
	Winners []int // seat indices, ascending
	Rolls   []int // per-seat rolls for dice-style games
}

// Resolve maps outcome to the winning seats of a game with players seats.
// The modulo reduction carries a bias below 2^-58 for every catalog size.
func Resolve(t model.GameType, outcome uint64, players int) (Result, error) {
	spec, err := Lookup(t)
	if err != nil {
		return Result{}, err
	}
	if players < spec.MinPlayers || players > spec.MaxPlayers {
		return Result{}, model.ErrNotEnoughParticipants.With(
			"%s needs %d-%d players, got %d", t, spec.MinPlayers, spec.MaxPlayers, players)
	}

	switch t {
	case model.GameTypeCoinFlip:
		return Result{Winners: []int{int(outcome % 2)}}, nil
	case model.GameTypeLottery:
		return Result{Winners: []int{int(outcome % uint64(players))}}, nil
	default:
		return highest(outcome, players), nil
	}
}

// highest rolls a die per seat and returns every seat sharing the top roll.
func highest(outcome uint64, players int) Result {
	rolls := make([]int, players)
	best := 0
	for i := range rolls {
		rolls[i] = Roll(outcome, i)
		if rolls[i] > best {
			best = rolls[i]
		}
	}
	var winners []int
	for i, r := range rolls {
		if r == best {
			winners = append(winners, i)
		}
	}
	return Result{Winners: winners, Rolls: rolls}
}

const golden = 0x9e3779b97f4a7c15

// Roll derives seat's six-sided roll from outcome.
func Roll(outcome uint64, seat int) int {
	return int(mix(outcome+uint64(seat)*golden)%6) + 1
}

// mix is the splitmix64 finalizer.
func mix(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
