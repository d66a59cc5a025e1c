// Package audit implements the durable, append-only audit log. Entries are
// written as JSON lines into one file per UTC day under the vault Logs/
// folder and fsynced before Append returns.
package audit
