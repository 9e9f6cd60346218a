package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Constructor tests ---

func TestNewTransform_Valid(t *testing.T) {
	tr, err := NewTransform("test", 1.75, 0.00698, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Version != "test" {
		t.Errorf("expected version=test, got %s", tr.Version)
	}
}

func TestNewTransform_BadExponent(t *testing.T) {
	for _, exp := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := NewTransform("x", exp, 1, 0); !errors.Is(err, ErrInvalidExponent) {
			t.Errorf("exponent %v: expected ErrInvalidExponent, got %v", exp, err)
		}
	}
}

func TestNewTransform_NegativeCoefficientOrFloor(t *testing.T) {
	if _, err := NewTransform("x", 1, -0.1, 0); !errors.Is(err, ErrInvalidCoefficient) {
		t.Errorf("expected ErrInvalidCoefficient for negative coefficient, got %v", err)
	}
	if _, err := NewTransform("x", 1, 1, -5); !errors.Is(err, ErrInvalidCoefficient) {
		t.Errorf("expected ErrInvalidCoefficient for negative floor, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	tr, err := Lookup("v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr != V1 {
		t.Errorf("expected V1, got %+v", tr)
	}
	if _, err := Lookup("v0"); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("expected ErrUnknownVersion, got %v", err)
	}
}

// --- Price tests ---

func TestPrice_V1Floor(t *testing.T) {
	if p := V1.Price(0); !p.Equal(d(10)) {
		t.Errorf("expected floor price 10 at lp=0, got %s", p)
	}
}

func TestPrice_V1KnownValue(t *testing.T) {
	// 1000^1.75 * 0.00698 + 10 = 1251.239...
	if p := V1.Price(1000); !p.Equal(d(1251.24)) {
		t.Errorf("expected 1251.24 at lp=1000, got %s", p)
	}
}

func TestPrice_NegativeAndNaNClampToZero(t *testing.T) {
	floor := V1.Price(0)
	if p := V1.Price(-250); !p.Equal(floor) {
		t.Errorf("negative metric should price at floor, got %s", p)
	}
	if p := V1.Price(math.NaN()); !p.Equal(floor) {
		t.Errorf("NaN metric should price at floor, got %s", p)
	}
}

func TestPrice_CappedAtMax(t *testing.T) {
	if p := V1.Price(math.Inf(1)); !p.Equal(MaxPrice) {
		t.Errorf("expected MaxPrice for +Inf, got %s", p)
	}
	if p := V1.Price(1e300); !p.Equal(MaxPrice) {
		t.Errorf("expected MaxPrice for huge metric, got %s", p)
	}
}

func TestPrice_IdentityTransform(t *testing.T) {
	tr, _ := NewTransform("identity", 1, 1, 0)
	if p := tr.Price(100); !p.Equal(d(100)) {
		t.Errorf("expected 100, got %s", p)
	}
	if p := tr.Price(120.004); !p.Equal(d(120)) {
		t.Errorf("expected rounding to 120, got %s", p)
	}
}

func TestPrice_Deterministic(t *testing.T) {
	a := V1.Price(873)
	b := V1.Price(873)
	if !a.Equal(b) {
		t.Errorf("same input priced differently: %s vs %s", a, b)
	}
}

// --- Properties ---

func TestProperty_PriceMonotonicNonNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Float64Range(-1000, 5000).Draw(t, "a")
		b := rapid.Float64Range(-1000, 5000).Draw(t, "b")
		if a > b {
			a, b = b, a
		}
		pa, pb := V1.Price(a), V1.Price(b)
		if pa.IsNegative() || pb.IsNegative() {
			t.Fatalf("negative price: price(%v)=%s price(%v)=%s", a, pa, b, pb)
		}
		if pa.GreaterThan(pb) {
			t.Fatalf("not monotonic: price(%v)=%s > price(%v)=%s", a, pa, b, pb)
		}
	})
}

func TestProperty_IntegerMetricsOrderAgrees(t *testing.T) {
	// Ranking by league points and by price must agree for the metric
	// range seen in practice.
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.IntRange(0, 3000).Draw(t, "a")
		b := rapid.IntRange(0, 3000).Draw(t, "b")
		pa, pb := V1.Price(float64(a)), V1.Price(float64(b))
		if a < b && pa.GreaterThan(pb) {
			t.Fatalf("order disagreement: lp %d<%d but price %s>%s", a, b, pa, pb)
		}
	})
}
