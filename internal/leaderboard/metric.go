package leaderboard

import (
	"errors"
	"fmt"
	"strings"
)

// Axis is the value a leaderboard orders by.
type Axis int

const (
	AxisPrice Axis = iota
	AxisDelta8h
	AxisDelta24h
	AxisDelta72h
	AxisPortfolioValue
)

func (a Axis) String() string {
	switch a {
	case AxisPrice:
		return "price"
	case AxisDelta8h:
		return "delta_8h"
	case AxisDelta24h:
		return "delta_24h"
	case AxisDelta72h:
		return "delta_72h"
	case AxisPortfolioValue:
		return "portfolio"
	default:
		return "unknown"
	}
}

// Metric is a parsed leaderboard selector. Ascending boards list the
// lowest values first (the "neg_" variants).
type Metric struct {
	Axis      Axis
	Ascending bool
}

var ErrUnknownMetric = errors.New("leaderboard: unknown metric")

var axisNames = map[string]Axis{
	"lp":        AxisPrice,
	"price":     AxisPrice,
	"delta_8h":  AxisDelta8h,
	"8h":        AxisDelta8h,
	"delta_24h": AxisDelta24h,
	"24h":       AxisDelta24h,
	"delta_72h": AxisDelta72h,
	"72h":       AxisDelta72h,
}

// ParseMetric resolves a metric name such as "lp", "delta_24h", "neg_8h"
// or "portfolio". Names are case-insensitive.
func ParseMetric(name string) (Metric, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "portfolio" || n == "portfolio_value" {
		return Metric{Axis: AxisPortfolioValue}, nil
	}

	asc := false
	if rest, ok := strings.CutPrefix(n, "neg_"); ok {
		asc = true
		n = rest
	}
	axis, ok := axisNames[n]
	if !ok {
		return Metric{}, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	return Metric{Axis: axis, Ascending: asc}, nil
}

// String returns the canonical name of m.
func (m Metric) String() string {
	if m.Ascending {
		return "neg_" + m.Axis.String()
	}
	return m.Axis.String()
}
