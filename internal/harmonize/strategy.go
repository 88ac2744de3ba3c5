package harmonize

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/interp"

	"fredcast/internal/config"
	"fredcast/internal/timeseries"
)

// ErrInsufficientObservations is returned when a series has too few known
// values for its strategy.
var ErrInsufficientObservations = errors.New("insufficient observations")

// Point is one harmonized daily value.
type Point struct {
	Date  time.Time
	Value float64
}

// Strategy converts the observations of a single series to a daily grid.
// The set of strategies is closed: Step, Smooth, Accumulating, Passthrough.
type Strategy interface {
	Name() config.Strategy
	apply(obs []timeseries.Observation) ([]Point, error)
}

// Step holds the most recent known value until the next report.
type Step struct{}

// Smooth interpolates with a not-a-knot cubic spline through the known values.
type Smooth struct{}

// Accumulating spreads each change between reports evenly over the days in
// between.
type Accumulating struct{}

// Passthrough returns the observations unchanged.
type Passthrough struct{}

func (Step) Name() config.Strategy         { return config.Step }
func (Smooth) Name() config.Strategy       { return config.Smooth }
func (Accumulating) Name() config.Strategy { return config.Accumulating }
func (Passthrough) Name() config.Strategy  { return config.Untransformed }

// ForStrategy maps a configured classification to its implementation.
func ForStrategy(s config.Strategy) (Strategy, error) {
	switch s {
	case config.Step:
		return Step{}, nil
	case config.Smooth:
		return Smooth{}, nil
	case config.Accumulating:
		return Accumulating{}, nil
	case config.Untransformed, "":
		return Passthrough{}, nil
	default:
		return nil, fmt.Errorf("unknown harmonization strategy %q", s)
	}
}

// known returns the dated values of the observations that carry one, in date
// order. A later report for the same day replaces an earlier one.
func known(obs []timeseries.Observation) []Point {
	pts := make([]Point, 0, len(obs))
	for _, o := range obs {
		if !o.Known() {
			continue
		}
		d := timeseries.Truncate(o.Date)
		if n := len(pts); n > 0 && pts[n-1].Date.Equal(d) {
			pts[n-1].Value = o.Value
			continue
		}
		pts = append(pts, Point{Date: d, Value: o.Value})
	}
	return pts
}

func dateSpan(obs []timeseries.Observation) (time.Time, time.Time) {
	return timeseries.Truncate(obs[0].Date), timeseries.Truncate(obs[len(obs)-1].Date)
}

func grid(start, end time.Time) []Point {
	n := timeseries.DaysBetween(start, end) + 1
	out := make([]Point, n)
	for i := range out {
		out[i] = Point{Date: start.AddDate(0, 0, i), Value: math.NaN()}
	}
	return out
}

// The grid starts at the first known value; trailing absent reports keep
// holding the last value.
func (Step) apply(obs []timeseries.Observation) ([]Point, error) {
	pts := known(obs)
	if len(pts) < 1 {
		return nil, insufficient(len(pts), 1)
	}
	_, end := dateSpan(obs)
	out := grid(pts[0].Date, end)

	next := 0
	held := math.NaN()
	for i := range out {
		if next < len(pts) && pts[next].Date.Equal(out[i].Date) {
			held = pts[next].Value
			next++
		}
		out[i].Value = held
	}
	return out, nil
}

func (Smooth) apply(obs []timeseries.Observation) ([]Point, error) {
	pts := known(obs)
	if len(pts) < 2 {
		return nil, insufficient(len(pts), 2)
	}
	start, end := dateSpan(obs)
	out := grid(start, end)

	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = float64(timeseries.DaysBetween(start, p.Date))
		ys[i] = p.Value
	}

	var fp interp.FittablePredictor
	switch len(pts) {
	case 2:
		fp = &interp.PiecewiseLinear{}
	case 3:
		// the not-a-knot cubic through three knots is their parabola
		fp = &parabola{}
	default:
		fp = &interp.NotAKnotCubic{}
	}
	if err := fp.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("spline fit: %w", err)
	}

	first, last := xs[0], xs[len(xs)-1]
	for i := range out {
		x := float64(i)
		switch {
		case x <= first:
			out[i].Value = ys[0]
		case x >= last:
			out[i].Value = ys[len(ys)-1]
		default:
			out[i].Value = fp.Predict(x)
		}
	}
	// knots keep their reported values exactly
	for i, x := range xs {
		out[int(x)].Value = ys[i]
	}
	return out, nil
}

func (Accumulating) apply(obs []timeseries.Observation) ([]Point, error) {
	pts := known(obs)
	if len(pts) < 2 {
		return nil, insufficient(len(pts), 2)
	}
	out := grid(pts[0].Date, pts[len(pts)-1].Date)

	inc := Increments(pts)
	level := pts[0].Value
	out[0].Value = level
	for i := 1; i < len(out); i++ {
		level += inc[i]
		out[i].Value = level
	}
	// pin the reported levels so rounding does not drift across intervals
	for _, p := range pts {
		out[timeseries.DaysBetween(pts[0].Date, p.Date)].Value = p.Value
	}
	return out, nil
}

// Increments returns the per-day increments of an accumulating series on the
// daily grid from the first to the last known point. Each change between two
// consecutive points is divided evenly over the days after the earlier point
// up to and including the later one. The first day has no increment (NaN).
func Increments(pts []Point) []float64 {
	if len(pts) == 0 {
		return nil
	}
	start := pts[0].Date
	inc := make([]float64, timeseries.DaysBetween(start, pts[len(pts)-1].Date)+1)
	inc[0] = math.NaN()
	for k := 1; k < len(pts); k++ {
		lo := timeseries.DaysBetween(start, pts[k-1].Date)
		hi := timeseries.DaysBetween(start, pts[k].Date)
		per := (pts[k].Value - pts[k-1].Value) / float64(hi-lo)
		for i := lo + 1; i <= hi; i++ {
			inc[i] = per
		}
	}
	return inc
}

func (Passthrough) apply(obs []timeseries.Observation) ([]Point, error) {
	out := make([]Point, len(obs))
	for i, o := range obs {
		out[i] = Point{Date: timeseries.Truncate(o.Date), Value: o.Value}
	}
	return out, nil
}

func insufficient(have, need int) error {
	return fmt.Errorf("%w: have %d known values, need %d", ErrInsufficientObservations, have, need)
}

// parabola is the quadratic through exactly three points, in Lagrange form.
type parabola struct {
	xs, ys [3]float64
}

func (p *parabola) Fit(xs, ys []float64) error {
	if len(xs) != 3 || len(ys) != 3 {
		return fmt.Errorf("parabola: need 3 points, got %d", len(xs))
	}
	if !(xs[0] < xs[1] && xs[1] < xs[2]) {
		return errors.New("parabola: xs must be strictly increasing")
	}
	copy(p.xs[:], xs)
	copy(p.ys[:], ys)
	return nil
}

func (p *parabola) Predict(x float64) float64 {
	var v float64
	for i := 0; i < 3; i++ {
		l := 1.0
		for j := 0; j < 3; j++ {
			if j != i {
				l *= (x - p.xs[j]) / (p.xs[i] - p.xs[j])
			}
		}
		v += l * p.ys[i]
	}
	return v
}
