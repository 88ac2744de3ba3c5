// Package stationarity classifies series with the augmented Dickey-Fuller
// unit-root test.
package stationarity
