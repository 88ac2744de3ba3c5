// Package http exposes stored observations and forecasts over a JSON API,
// plus health and Prometheus endpoints.
package http
