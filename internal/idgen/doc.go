// Package idgen wraps the UUID generator so that it can be stubbed in tests.
// Task, correlation and event identifiers are all minted here; callers treat
// them as opaque strings.
package idgen
