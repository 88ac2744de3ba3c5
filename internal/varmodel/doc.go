// Package varmodel estimates reduced-form vector autoregressions by OLS and
// produces forecasts, impulse responses and information criteria from them.
package varmodel
