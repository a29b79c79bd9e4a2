// Package governance holds the delivery safety controls used by the dispatch
// path: retry classification and exponential backoff.
package governance
