// Package fred retrieves series metadata and observations from the FRED
// web API.
package fred
