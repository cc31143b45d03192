package correlate

import "github.com/home-monitor/video-svr/pkg/schema"

// MapEvents returns the events that fall inside the interval, in input order.
func MapEvents(iv schema.VideoInterval, events []schema.MotionEvent) []schema.MotionEvent {
	matched := make([]schema.MotionEvent, 0)
	for _, e := range events {
		if iv.Contains(e.MovementDate.Time) {
			matched = append(matched, e)
		}
	}
	return matched
}

// MapAll attaches matching events to every interval. Overlapping intervals may
// share an event.
func MapAll(intervals []schema.VideoInterval, events []schema.MotionEvent) []schema.VideoInterval {
	out := make([]schema.VideoInterval, len(intervals))
	for i, iv := range intervals {
		iv.MatchedEvents = MapEvents(iv, events)
		out[i] = iv
	}
	return out
}
