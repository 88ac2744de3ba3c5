// Package differencing applies first differences to non-stationary columns
// and undoes them after forecasting.
package differencing
