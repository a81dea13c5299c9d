package rules

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/atmx/wager-engine/internal/model"
)

func TestValidateGameID_Valid(t *testing.T) {
	for _, id := range []string{"a", "game-1", "Game_ABC_123", strings.Repeat("x", 32)} {
		if err := ValidateGameID(id); err != nil {
			t.Errorf("ValidateGameID(%q): unexpected error %v", id, err)
		}
	}
}

func TestValidateGameID_Invalid(t *testing.T) {
	tests := []string{
		"",
		strings.Repeat("x", 33),
		"has space",
		"slash/id",
		"colon:id",
		"ünicode",
	}
	for _, id := range tests {
		if err := ValidateGameID(id); !errors.Is(err, model.ErrInvalidGameID) {
			t.Errorf("ValidateGameID(%q): expected ErrInvalidGameID, got %v", id, err)
		}
	}
}

func TestParseGameType(t *testing.T) {
	spec, err := ParseGameType(" CoinFlip ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Type != model.GameTypeCoinFlip || spec.MaxPlayers != 2 {
		t.Errorf("spec = %+v", spec)
	}

	if _, err := ParseGameType("price-prediction"); !errors.Is(err, model.ErrInvalidGameType) {
		t.Errorf("expected ErrInvalidGameType, got %v", err)
	}
}

func TestCatalog_AllTypes(t *testing.T) {
	specs := Catalog()
	if len(specs) != 4 {
		t.Fatalf("expected 4 game types, got %d", len(specs))
	}
	for i := 1; i < len(specs); i++ {
		if specs[i-1].Type >= specs[i].Type {
			t.Errorf("catalog not sorted: %s before %s", specs[i-1].Type, specs[i].Type)
		}
	}
	for _, s := range specs {
		if s.MinPlayers < 2 || s.MaxPlayers < s.MinPlayers {
			t.Errorf("%s: bad bounds %d-%d", s.Type, s.MinPlayers, s.MaxPlayers)
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		typ         model.GameType
		outcome     uint64
		players     int
		wantWinners []int
		wantRolls   []int
	}{
		{"coinflip even", model.GameTypeCoinFlip, 42, 2, []int{0}, nil},
		{"coinflip odd", model.GameTypeCoinFlip, 43, 2, []int{1}, nil},
		{"lottery", model.GameTypeLottery, 7, 3, []int{1}, nil},
		{"dice joiner wins", model.GameTypeDice, 1, 2, []int{1}, []int{2, 6}},
		{"dice creator wins", model.GameTypeDice, 7, 2, []int{0}, []int{5, 4}},
		{"dice tie", model.GameTypeDice, 2, 2, []int{0, 1}, []int{5, 5}},
		{"high roll tie", model.GameTypeHighRoll, 4, 4, []int{1, 2}, []int{3, 5, 5, 4}},
		{"high roll single", model.GameTypeHighRoll, 10, 4, []int{0}, []int{6, 5, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Resolve(tt.typ, tt.outcome, tt.players)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(res.Winners, tt.wantWinners) {
				t.Errorf("winners = %v, want %v", res.Winners, tt.wantWinners)
			}
			if !reflect.DeepEqual(res.Rolls, tt.wantRolls) {
				t.Errorf("rolls = %v, want %v", res.Rolls, tt.wantRolls)
			}
		})
	}
}

func TestResolve_PlayerCountOutOfRange(t *testing.T) {
	if _, err := Resolve(model.GameTypeCoinFlip, 1, 3); !errors.Is(err, model.ErrNotEnoughParticipants) {
		t.Errorf("expected ErrNotEnoughParticipants, got %v", err)
	}
	if _, err := Resolve(model.GameTypeLottery, 1, 1); !errors.Is(err, model.ErrNotEnoughParticipants) {
		t.Errorf("expected ErrNotEnoughParticipants, got %v", err)
	}
}

func TestRoll_InRange(t *testing.T) {
	seen := make(map[int]bool)
	for o := uint64(0); o < 500; o++ {
		for seat := 0; seat < 6; seat++ {
			r := Roll(o, seat)
			if r < 1 || r > 6 {
				t.Fatalf("Roll(%d, %d) = %d", o, seat, r)
			}
			seen[r] = true
		}
	}
	if len(seen) != 6 {
		t.Errorf("expected every face to appear, saw %v", seen)
	}
}
