// Package overseer is a human-in-the-loop task orchestration control plane.
//
// Watchers turn external events into tasks, the task store moves every task
// through an audited lifecycle, and nothing leaves the system before a human
// (or an explicit per-category policy) approved the draft. The status
// broadcaster streams every change to dashboards.
//
// The root package wires the components behind a single façade:
//
//	cfg, _ := overseer.LoadConfig(ctx, "overseer.yaml")
//	srv, _ := overseer.New(ctx, cfg, overseer.WithHook(task.CategoryEmail, sender))
//	defer srv.Close()
//	_ = srv.Run(ctx)
//
// For more details see the individual sub-packages.
package overseer
