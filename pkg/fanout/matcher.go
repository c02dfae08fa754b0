package fanout

import (
	"reflect"

	"github.com/cuemby/hutch/pkg/types"
)

// Matches reports whether a subscription should receive an event.
// Every configured filter must pass; a filter key missing from the
// event metadata is a mismatch, not a wildcard.
func Matches(sub *types.Subscription, ev *types.Event) bool {
	if !sub.Active {
		return false
	}
	if sub.ApplicationID != "" && sub.ApplicationID != ev.ApplicationID {
		return false
	}
	if len(sub.Events) > 0 && !containsEvent(sub.Events, ev.Status) {
		return false
	}
	if len(sub.Filters.Queues) > 0 && !containsString(sub.Filters.Queues, ev.Queue) {
		return false
	}
	if len(sub.Filters.Statuses) > 0 && !containsString(sub.Filters.Statuses, string(ev.Status)) {
		return false
	}
	for key, want := range sub.Filters.Metadata {
		got, ok := ev.Metadata[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func containsEvent(list []types.EventType, v types.EventType) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
