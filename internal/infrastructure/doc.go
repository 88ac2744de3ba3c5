// Package infrastructure builds the process-wide logger and tracer provider.
package infrastructure
