// Package progress keeps live task counters per lifecycle state so that
// status snapshots do not have to scan the store.
package progress
