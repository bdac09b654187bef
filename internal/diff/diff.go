// Package diff compares freshly fetched series against the stored snapshot.
package diff

import (
	"github.com/kenmeiwatch/kenmeiwatch/internal/chapter"
	"github.com/kenmeiwatch/kenmeiwatch/internal/kenmei"
	"github.com/kenmeiwatch/kenmeiwatch/internal/state"
)

// Policy controls which changes produce an Update.
type Policy struct {
	// NotifyNewSeries emits an Update for series absent from the previous snapshot.
	NotifyNewSeries bool
	// UnreadOnly suppresses Updates for series the user has already read.
	UnreadOnly bool
}

// Update is one detected chapter release.
type Update struct {
	ID    string
	Title string
	// Old is empty when the series was not in the previous snapshot.
	Old       chapter.Value
	New       chapter.Value
	FirstSeen bool
}

// Detect returns one Update per series whose chapter is newer than the stored
// one, in the order of current. Unchanged or lower chapters produce nothing.
// State files keyed by title are matched on the series title when the id is
// not present.
func Detect(prev state.Snapshot, current []kenmei.Series, p Policy) []Update {
	var out []Update
	seen := make(map[string]struct{}, len(current))
	for _, s := range current {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		if p.UnreadOnly && !s.Unread {
			continue
		}

		old := lookup(prev, s)
		if old == "" {
			if p.NotifyNewSeries {
				out = append(out, Update{ID: s.ID, Title: s.Title, New: s.Chapter, FirstSeen: true})
			}
			continue
		}
		if chapter.Greater(s.Chapter, old) {
			out = append(out, Update{ID: s.ID, Title: s.Title, Old: old, New: s.Chapter})
		}
	}
	return out
}

func lookup(prev state.Snapshot, s kenmei.Series) chapter.Value {
	if old, ok := prev[s.ID]; ok {
		return old
	}
	return prev[s.Title]
}

// Next builds the snapshot to persist after a run: every current series, read
// or unread, with its fetched chapter. Series no longer reported drop out and
// title keys are rewritten to ids.
func Next(current []kenmei.Series) state.Snapshot {
	snap := make(state.Snapshot, len(current))
	for _, s := range current {
		if _, dup := snap[s.ID]; dup {
			continue
		}
		snap[s.ID] = s.Chapter
	}
	return snap
}

// Removed lists identifiers present in prev but missing from next.
func Removed(prev, next state.Snapshot) []string {
	var out []string
	for id := range prev {
		if _, ok := next[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
