package pipeline

import (
	"maps"

	"fredcast/internal/timeseries"
)

// Snapshot keeps the dataset and p-values from before differencing for the
// inverse transform. Accessors return copies, so the retained state cannot
// be changed by later stages.
type Snapshot struct {
	dataset *timeseries.Dataset
	pValues map[string]float64
}

func newSnapshot(ds *timeseries.Dataset, pValues map[string]float64) Snapshot {
	return Snapshot{dataset: ds.Clone(), pValues: maps.Clone(pValues)}
}

// Dataset returns a copy of the pre-differencing dataset.
func (s Snapshot) Dataset() *timeseries.Dataset { return s.dataset.Clone() }

// PValues returns a copy of the pre-differencing p-values.
func (s Snapshot) PValues() map[string]float64 { return maps.Clone(s.pValues) }
