package audit

import (
	"sort"

	"github.com/viant/overseer/model/audit"
)

// dayAggregate holds the counters of one daily partition.
type dayAggregate struct {
	Day              string
	Total            int
	ByLevel          map[audit.Level]int
	ByPlatform       map[string]int
	ByAction         map[string]int
	ByActor          map[string]int
	PlatformFailures map[string]int
	Hours            [24]int
}

func newDayAggregate(day string) *dayAggregate {
	return &dayAggregate{
		Day:              day,
		ByLevel:          map[audit.Level]int{},
		ByPlatform:       map[string]int{},
		ByAction:         map[string]int{},
		ByActor:          map[string]int{},
		PlatformFailures: map[string]int{},
	}
}

func (a *dayAggregate) add(entry *audit.Entry) {
	a.Total++
	a.ByLevel[entry.Level]++
	a.ByAction[entry.Action]++
	a.ByActor[actorOf(entry)]++
	platform := platformOf(entry)
	a.ByPlatform[platform]++
	if entry.Level.IsFailure() {
		a.PlatformFailures[platform]++
	}
	a.Hours[entry.Timestamp.UTC().Hour()]++
}

func platformOf(entry *audit.Entry) string {
	if entry.Platform == "" {
		return "system"
	}
	return entry.Platform
}

func actorOf(entry *audit.Entry) string {
	if entry.Actor == "" {
		return "system"
	}
	return entry.Actor
}

// DayCount is the per-day line of Stats.
type DayCount struct {
	Day      string `json:"day"`
	Total    int    `json:"total"`
	Failures int    `json:"failures"`
}

// Stats summarises the log over a window of days.
type Stats struct {
	Days       int                 `json:"days"`
	Total      int                 `json:"total"`
	ByLevel    map[audit.Level]int `json:"by_level"`
	ByPlatform map[string]int      `json:"by_platform"`
	ByAction   map[string]int      `json:"by_action"`
	ByActor    map[string]int      `json:"by_actor"`
	Daily      []*DayCount         `json:"daily"`
}

// ActionCount is one line of the top actions ranking.
type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// Analytics derives operational indicators over a window of days.
type Analytics struct {
	Days                int                `json:"days"`
	Total               int                `json:"total"`
	HourlyActivity      [24]int            `json:"hourly_activity"`
	PeakHour            int                `json:"peak_hour"`
	ErrorRateByPlatform map[string]float64 `json:"error_rate_by_platform"`
	TopActions          []*ActionCount     `json:"top_actions"`
}

// topActionsLimit bounds the TopActions ranking.
const topActionsLimit = 10

func buildStats(days int, aggregates []*dayAggregate) *Stats {
	ret := &Stats{
		Days:       days,
		ByLevel:    map[audit.Level]int{},
		ByPlatform: map[string]int{},
		ByAction:   map[string]int{},
		ByActor:    map[string]int{},
	}
	for _, agg := range aggregates {
		ret.Total += agg.Total
		failures := 0
		for level, n := range agg.ByLevel {
			ret.ByLevel[level] += n
			if level.IsFailure() {
				failures += n
			}
		}
		for platform, n := range agg.ByPlatform {
			ret.ByPlatform[platform] += n
		}
		for action, n := range agg.ByAction {
			ret.ByAction[action] += n
		}
		for actor, n := range agg.ByActor {
			ret.ByActor[actor] += n
		}
		ret.Daily = append(ret.Daily, &DayCount{Day: agg.Day, Total: agg.Total, Failures: failures})
	}
	return ret
}

func buildAnalytics(days int, aggregates []*dayAggregate) *Analytics {
	ret := &Analytics{Days: days, ErrorRateByPlatform: map[string]float64{}}
	totals := map[string]int{}
	failures := map[string]int{}
	actions := map[string]int{}
	for _, agg := range aggregates {
		ret.Total += agg.Total
		for hour, n := range agg.Hours {
			ret.HourlyActivity[hour] += n
		}
		for platform, n := range agg.ByPlatform {
			totals[platform] += n
		}
		for platform, n := range agg.PlatformFailures {
			failures[platform] += n
		}
		for action, n := range agg.ByAction {
			actions[action] += n
		}
	}
	for hour, n := range ret.HourlyActivity {
		if n > ret.HourlyActivity[ret.PeakHour] {
			ret.PeakHour = hour
		}
	}
	for platform, total := range totals {
		if total > 0 {
			ret.ErrorRateByPlatform[platform] = float64(failures[platform]) / float64(total)
		}
	}
	for action, n := range actions {
		ret.TopActions = append(ret.TopActions, &ActionCount{Action: action, Count: n})
	}
	sort.Slice(ret.TopActions, func(i, j int) bool {
		if ret.TopActions[i].Count != ret.TopActions[j].Count {
			return ret.TopActions[i].Count > ret.TopActions[j].Count
		}
		return ret.TopActions[i].Action < ret.TopActions[j].Action
	})
	if len(ret.TopActions) > topActionsLimit {
		ret.TopActions = ret.TopActions[:topActionsLimit]
	}
	return ret
}
