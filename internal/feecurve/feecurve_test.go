package feecurve

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func scenarioCurve(t *testing.T) *Curve {
	t.Helper()
	c, err := New(d("0.001"), d("0.0005"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestNew_NegativeRates(t *testing.T) {
	if _, err := New(d("-0.001"), d("0.0005")); err != ErrInvalidRates {
		t.Errorf("expected ErrInvalidRates, got %v", err)
	}
}

func TestRate_ReferenceTable(t *testing.T) {
	c := scenarioCurve(t)
	target := d("29700")

	tests := []struct {
		delta string
		want  string
	}{
		{"1000", "0.001"},
		{"5000", "0.00104"},
	}
	for _, tt := range tests {
		got, err := c.Rate(target, target, d(tt.delta), true)
		if err != nil {
			t.Fatalf("add %s: %v", tt.delta, err)
		}
		if !got.Equal(d(tt.want)) {
			t.Errorf("add %s: fee = %s, want %s", tt.delta, got, tt.want)
		}
	}
}

func TestRate_MovingTowardTargetIsCheaper(t *testing.T) {
	c := scenarioCurve(t)
	target := d("10000")

	toward, _ := c.Rate(d("6000"), target, d("2000"), true)
	away, _ := c.Rate(d("6000"), target, d("2000"), false)

	if !toward.LessThan(c.Base()) {
		t.Errorf("fee toward target = %s, should be below base", toward)
	}
	if !away.GreaterThan(c.Base()) {
		t.Errorf("fee away from target = %s, should be above base", away)
	}
}

func TestRate_ZeroTargetIsBase(t *testing.T) {
	c := scenarioCurve(t)
	got, err := c.Rate(d("500"), decimal.Zero, d("100"), true)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(c.Base()) {
		t.Errorf("fee = %s, want base", got)
	}
}

func TestRate_RemoveExceedsValue(t *testing.T) {
	c := scenarioCurve(t)
	if _, err := c.Rate(d("100"), d("100"), d("100.5"), false); err != ErrRemoveExceedsValue {
		t.Errorf("expected ErrRemoveExceedsValue, got %v", err)
	}
}

func TestRate_Bounds(t *testing.T) {
	c := scenarioCurve(t)
	lo := c.Base().Sub(c.Dynamic())
	hi := c.Base().Add(c.Dynamic())
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		target := decimal.NewFromInt(rng.Int63n(1_000_000) + 1)
		current := decimal.NewFromInt(rng.Int63n(3_000_000))
		isAdd := rng.Intn(2) == 0
		var delta decimal.Decimal
		if isAdd {
			delta = decimal.NewFromInt(rng.Int63n(5_000_000))
		} else {
			delta = decimal.NewFromInt(rng.Int63n(current.IntPart() + 1))
		}

		fee, err := c.Rate(current, target, delta, isAdd)
		if err != nil {
			t.Fatalf("current=%s target=%s delta=%s add=%v: %v", current, target, delta, isAdd, err)
		}
		if fee.LessThan(lo) || fee.GreaterThan(hi) {
			t.Fatalf("current=%s target=%s delta=%s add=%v: fee %s outside [%s, %s]",
				current, target, delta, isAdd, fee, lo, hi)
		}
	}
}

func TestTargetValue(t *testing.T) {
	if got := TargetValue(d("90000"), d("1"), d("3")); !got.Equal(d("30000")) {
		t.Errorf("target = %s, want 30000", got)
	}
	if got := TargetValue(d("90000"), d("1"), decimal.Zero); !got.IsZero() {
		t.Errorf("target with zero weight = %s", got)
	}
}
