// Package policy holds the per-category auto-approval table. Every decision
// it makes is reported by name so that it can be audited.
package policy
