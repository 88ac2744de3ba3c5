package config

import (
	"fmt"
	"sort"
	"time"
)

// Strategy names the harmonization applied to a series.
type Strategy string

const (
	// Accumulating series are cumulative totals reported at sparse intervals.
	Accumulating Strategy = "accumulating"
	// Step series are binary or index indicators held until the next report.
	Step Strategy = "step"
	// Smooth series vary continuously and are spline-interpolated.
	Smooth Strategy = "smooth"
	// Untransformed series pass through unchanged.
	Untransformed Strategy = "untransformed"
)

// PipelineConfig is the static input of a pipeline run: which series to
// collect, how each one is harmonized and which groups are analyzed.
type PipelineConfig struct {
	SeriesIDs      []string            `yaml:"series_ids" validate:"required,min=1,dive,required"`
	Classification map[string]Strategy `yaml:"classification" validate:"dive,keys,required,endkeys,oneof=accumulating step smooth untransformed"`
	Groups         []GroupConfig       `yaml:"groups" validate:"required,min=1,dive"`
	// Upper bound of the lag-order search
	MaxLags int `yaml:"max_lags" validate:"gte=1"`
	// Seasonal period of the dummies used during lag-order selection
	Seasons int `yaml:"seasons" validate:"gte=0"`
}

// GroupConfig is one independently analyzed set of series.
type GroupConfig struct {
	Name      string   `yaml:"name" validate:"required"`
	SeriesIDs []string `yaml:"series_ids" validate:"required,min=1,dive,required"`
	Start     string   `yaml:"start" validate:"omitempty,datetime=2006-01-02"`
	End       string   `yaml:"end" validate:"omitempty,datetime=2006-01-02"`
	Steps     int      `yaml:"steps" validate:"gt=0"`
}

// StrategyFor returns the configured strategy of a series; unclassified
// series are untransformed.
func (p PipelineConfig) StrategyFor(seriesID string) Strategy {
	if s, ok := p.Classification[seriesID]; ok {
		return s
	}
	return Untransformed
}

// SeriesByStrategy lists the collected series under each strategy, sorted.
func (p PipelineConfig) SeriesByStrategy() map[Strategy][]string {
	out := make(map[Strategy][]string)
	for _, id := range p.SeriesIDs {
		s := p.StrategyFor(id)
		out[s] = append(out[s], id)
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}

// Range parses the optional date bounds of the group. Zero values mean
// unbounded.
func (g GroupConfig) Range() (start, end time.Time, err error) {
	if g.Start != "" {
		if start, err = time.Parse("2006-01-02", g.Start); err != nil {
			return start, end, fmt.Errorf("group %s start: %w", g.Name, err)
		}
	}
	if g.End != "" {
		if end, err = time.Parse("2006-01-02", g.End); err != nil {
			return start, end, fmt.Errorf("group %s end: %w", g.Name, err)
		}
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return start, end, fmt.Errorf("group %s: start %s is not before end %s", g.Name, g.Start, g.End)
	}
	return start, end, nil
}

func (p PipelineConfig) validateGroups() error {
	collected := make(map[string]bool, len(p.SeriesIDs))
	for _, id := range p.SeriesIDs {
		collected[id] = true
	}
	names := make(map[string]bool, len(p.Groups))
	for _, g := range p.Groups {
		if names[g.Name] {
			return fmt.Errorf("duplicate group %q", g.Name)
		}
		names[g.Name] = true
		if _, _, err := g.Range(); err != nil {
			return err
		}
		seen := make(map[string]bool, len(g.SeriesIDs))
		for _, id := range g.SeriesIDs {
			if !collected[id] {
				return fmt.Errorf("group %s: series %s is not collected", g.Name, id)
			}
			if seen[id] {
				return fmt.Errorf("group %s: series %s listed twice", g.Name, id)
			}
			seen[id] = true
		}
	}
	return nil
}

// DefaultPipeline mirrors the production series list: macro, market, control,
// tech-sector and crypto series from FRED, analyzed as a semiconductor group
// and a cryptocurrency group with a one year horizon.
func DefaultPipeline() PipelineConfig {
	smooth := []string{
		"SP500", "WM2NS", "IPG3344S", "A939RX0Q048SBEA", "UMCSENT", "UNRATE", "AITINO",
		"VIXCLS", "DTB3", "DTWEXAFEGS", "OVXCLS", "RRPONTSYD", "T5YIE", "CBBTCUSD", "CBETHUSD",
	}
	classification := map[string]Strategy{"USREC": Step}
	for _, id := range smooth {
		classification[id] = Smooth
	}

	return PipelineConfig{
		SeriesIDs: []string{
			// macro
			"RRPONTSYD", "DTWEXAFEGS", "DTB3", "A939RX0Q048SBEA", "WM2NS", "UNRATE", "T5YIE",
			// financial markets
			"SP500", "VIXCLS", "OVXCLS",
			// controls
			"USREC", "UMCSENT", "INFECTDISEMVTRACKD",
			// tech sector
			"AITINO", "IPG3344S",
			// cryptocurrency
			"CBBTCUSD", "CBETHUSD",
		},
		Classification: classification,
		Groups: []GroupConfig{
			{
				Name:      "semiconductor",
				SeriesIDs: []string{"IPG3344S", "AITINO", "SP500", "DTWEXAFEGS", "T5YIE"},
				Steps:     365,
			},
			{
				Name:      "cryptocurrency",
				SeriesIDs: []string{"CBBTCUSD", "CBETHUSD", "SP500", "VIXCLS"},
				Steps:     365,
			},
		},
		MaxLags: 15,
		Seasons: 4,
	}
}
