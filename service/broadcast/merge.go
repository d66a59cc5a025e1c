package broadcast

import "sort"

// Merge combines events received live with events fetched by polling. The
// result holds each id once, newest first, without heartbeat or pong frames.
func Merge(live, polled []*Event) []*Event {
	seen := make(map[string]bool, len(live)+len(polled))
	ret := make([]*Event, 0, len(live)+len(polled))
	for _, events := range [][]*Event{live, polled} {
		for _, event := range events {
			if event == nil || event.IsControl() || seen[event.ID] {
				continue
			}
			seen[event.ID] = true
			ret = append(ret, event)
		}
	}
	sort.SliceStable(ret, func(i, j int) bool { return ret[i].Timestamp.After(ret[j].Timestamp) })
	return ret
}
