// Package coint selects the cointegration rank (Johansen trace test) and the
// autoregressive lag order (information criteria over a common sample) of a
// group of series.
package coint
