// Package policy evaluates optional per-endpoint Rego filters with the Open
// Policy Agent SDK.
//
// A filter is a Rego v1 module in package relay.filter. The relay evaluates
// data.relay.filter.allow with the alert's render context as input; an
// undefined allow delivers the alert. Modules are compiled once when the
// configuration loads so that syntax errors are reported as configuration
// errors rather than at delivery time.
package policy
