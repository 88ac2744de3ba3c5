// Package vecm fits vector error-correction models and forecasts them
// through their levels VAR representation.
package vecm
