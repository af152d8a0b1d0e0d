package watch

import "sort"

// coalesce folds a batch window's raw events per path down to at most
// one event per path, then emits the survivors in path order (§4.7
// Debouncing, §8 Watch coalescing). An overflow anywhere in the window
// invalidates incremental tracking for the whole batch, so it is
// emitted alone.
func coalesce(events []FileChangeEvent) []FileChangeEvent {
	for _, e := range events {
		if e.Kind == KindOverflow {
			return []FileChangeEvent{e}
		}
	}

	order := make([]string, 0, len(events))
	byPath := make(map[string]FileChangeEvent, len(events))

	for _, e := range events {
		acc, seen := byPath[e.Path]
		if !seen {
			order = append(order, e.Path)
			byPath[e.Path] = e
			continue
		}

		byPath[e.Path] = foldEvent(acc, e)
	}

	sort.Strings(order)

	out := make([]FileChangeEvent, 0, len(order))
	for _, p := range order {
		out = append(out, byPath[p])
	}

	return out
}

// foldEvent applies the coalescing table to acc (the running state for
// a path) and next (the newly observed raw event for the same path):
// CREATE then MODIFY => CREATE(size=last); any then DELETE => DELETE;
// repeated MODIFY => single MODIFY(size=last).
func foldEvent(acc, next FileChangeEvent) FileChangeEvent {
	switch next.Kind {
	case KindDelete:
		return next
	case KindCreate:
		if acc.Kind == KindDelete {
			return next
		}

		acc.Size = next.Size
		acc.ModTime = next.ModTime
		acc.Timestamp = next.Timestamp

		return acc
	case KindModify:
		if acc.Kind == KindDelete {
			acc.Kind = KindModify
		}

		acc.Size = next.Size
		acc.ModTime = next.ModTime
		acc.Timestamp = next.Timestamp

		return acc
	default:
		return next
	}
}
