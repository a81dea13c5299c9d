package payout

import (
	"errors"
	"math"
	"testing"

	"github.com/atmx/wager-engine/internal/model"
)

// --- Constructor tests ---

func TestNewSplitter_Valid(t *testing.T) {
	s, err := NewSplitter(500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.FeeBps() != 500 {
		t.Errorf("expected 500 bps, got %d", s.FeeBps())
	}
	if s.Rate().String() != "0.05" {
		t.Errorf("expected rate 0.05, got %s", s.Rate())
	}
}

func TestNewSplitter_RejectsAboveHundredPercent(t *testing.T) {
	_, err := NewSplitter(10001)
	if !errors.Is(err, model.ErrInvalidFeePercent) {
		t.Errorf("expected ErrInvalidFeePercent, got %v", err)
	}
}

// --- Fee tests ---

func TestFee_Table(t *testing.T) {
	tests := []struct {
		bps  uint16
		pool uint64
		want uint64
	}{
		{500, 200, 10},
		{500, 100, 5},
		{0, 1_000_000, 0},
		{10000, 777, 777},
		{250, 399, 9}, // 9.975 truncates
		{1, 9999, 0},
		{10000, math.MaxUint64, math.MaxUint64},
		{9999, math.MaxUint64, 18444899399302180659},
	}
	for _, tt := range tests {
		s, _ := NewSplitter(tt.bps)
		if got := s.Fee(tt.pool); got != tt.want {
			t.Errorf("Fee(%d) at %d bps = %d, want %d", tt.pool, tt.bps, got, tt.want)
		}
	}
}

func TestFee_NeverExceedsPool(t *testing.T) {
	for _, bps := range []uint16{0, 1, 333, 5000, 9999, 10000} {
		s, _ := NewSplitter(bps)
		for _, pool := range []uint64{0, 1, 2, 3, 99, 12345, math.MaxUint64 - 1} {
			if fee := s.Fee(pool); fee > pool {
				t.Errorf("fee %d exceeds pool %d at %d bps", fee, pool, bps)
			}
		}
	}
}

// --- Distribution tests ---

func TestDistribute_SingleWinner(t *testing.T) {
	s, _ := NewSplitter(500)
	fee, shares, err := s.Distribute(200, 1)
	if err != nil {
		t.Fatal(err)
	}
	if fee != 10 || len(shares) != 1 || shares[0] != 190 {
		t.Errorf("got fee=%d shares=%v, want fee=10 shares=[190]", fee, shares)
	}
}

func TestDistribute_TieRemainderToFirst(t *testing.T) {
	s, _ := NewSplitter(0)
	fee, shares, err := s.Distribute(101, 2)
	if err != nil {
		t.Fatal(err)
	}
	if fee != 0 || shares[0] != 51 || shares[1] != 50 {
		t.Errorf("got fee=%d shares=%v, want [51 50]", fee, shares)
	}
}

func TestDistribute_Conserves(t *testing.T) {
	for _, bps := range []uint16{0, 7, 500, 10000} {
		s, _ := NewSplitter(bps)
		for _, pool := range []uint64{0, 1, 10, 101, 9_999_999} {
			for n := 1; n <= 6; n++ {
				fee, shares, err := s.Distribute(pool, n)
				if err != nil {
					t.Fatal(err)
				}
				sum := fee
				for _, sh := range shares {
					sum += sh
				}
				if sum != pool {
					t.Errorf("bps=%d pool=%d n=%d: fee+shares=%d", bps, pool, n, sum)
				}
			}
		}
	}
}

func TestDistribute_NoWinners(t *testing.T) {
	s, _ := NewSplitter(0)
	if _, _, err := s.Distribute(10, 0); err != ErrNoWinners {
		t.Errorf("expected ErrNoWinners, got %v", err)
	}
}

// --- Percent parsing ---

func TestParseFeePercent(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"5", 500, false},
		{"2.5", 250, false},
		{"0", 0, false},
		{"100", 10000, false},
		{"0.01", 1, false},
		{"0.001", 0, true},
		{"100.01", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFeePercent(tt.in)
		if tt.wantErr {
			if !errors.Is(err, model.ErrInvalidFeePercent) {
				t.Errorf("ParseFeePercent(%q): expected ErrInvalidFeePercent, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFeePercent(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestFormatBps(t *testing.T) {
	if got := FormatBps(250); got != "2.50%" {
		t.Errorf("FormatBps(250) = %q", got)
	}
	if got := FormatBps(10000); got != "100.00%" {
		t.Errorf("FormatBps(10000) = %q", got)
	}
}
