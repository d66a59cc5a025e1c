package clock

import "time"

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Day returns the UTC calendar day of t formatted as YYYY-MM-DD.
func Day(t time.Time) string { return t.UTC().Format(DayLayout) }

// DayLayout is the layout used for daily partitions.
const DayLayout = "2006-01-02"
