// Package harmonize converts sparsely reported series to a daily cadence.
//
// Each series is classified once and handled by exactly one Strategy:
// step series hold their last value, smooth series follow a cubic spline,
// accumulating series spread each reported change evenly across the days it
// covers, and untransformed series pass through.
package harmonize
