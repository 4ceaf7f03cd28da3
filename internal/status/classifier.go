// Package status merges the tracker cache with access-window activity
// facts into one display status. The decision tree lives here and only
// here; list surfaces order through domain.Status.Priority instead of
// re-deriving their own ranking.
package status

import (
	statusdomain "github.com/adlift/trafficdesk/internal/status/domain"
)

// ClassifyInput carries everything the decision needs. All fields are
// plain facts computed elsewhere; Classify itself touches no state.
type ClassifyInput struct {
	Archived      bool
	CacheLoading  bool
	SeriesLoading bool
	AccessExpired bool
	HasActivity   bool
	Tracker       *statusdomain.Record
}

// Classify never fails: an absent or unrecognized tracker record
// collapses to not_in_tracker. Order matters:
//
//  1. archived wins over everything
//  2. still loading either input
//  3. access lapsed but the buyer did work while it was open
//  4. tracker reports spend for the channel, but none of it falls in
//     this buyer's window; it belongs to a previous owner of the id
//  5. whatever the tracker cache says
func Classify(in ClassifyInput) statusdomain.Status {
	if in.Archived {
		return statusdomain.StatusArchived
	}
	if in.CacheLoading || in.SeriesLoading {
		return statusdomain.StatusLoading
	}
	if in.AccessExpired && in.HasActivity {
		return statusdomain.StatusNotConfigured
	}
	if in.Tracker == nil {
		return statusdomain.StatusNotInTracker
	}
	tracked := in.Tracker.Status
	if (tracked == statusdomain.StatusActive || tracked == statusdomain.StatusNotConfigured) && !in.HasActivity {
		return statusdomain.StatusNotInTracker
	}
	switch tracked {
	case statusdomain.StatusActive, statusdomain.StatusNotConfigured, statusdomain.StatusNotInTracker:
		return tracked
	default:
		return statusdomain.StatusNotInTracker
	}
}
