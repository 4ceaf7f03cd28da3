// Package access derives per-assignment channel access windows from a
// buyer's current channel settings. A channel id can be handed between
// buyers over its lifetime, so windows are always recomputed from the
// live settings, never from anything captured at assignment creation.
package access

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/adlift/trafficdesk/internal/cache"
	channeldomain "github.com/adlift/trafficdesk/internal/channel/domain"
)

const memoTTL = time.Minute

// Window is the [From, Until] date range during which a channel id is
// attributed to the buyer. Nil From means unbounded past; nil Until
// means the attribution is still open.
type Window struct {
	From  *time.Time
	Until *time.Time
}

type Resolver struct {
	memo cache.Cache[string, map[string]Window]
}

func NewResolver() *Resolver {
	return &Resolver{
		memo: cache.NewTTLCache[string, map[string]Window](),
	}
}

// Resolve maps channel id to its access window for the assignment's
// traffic source. Channels with a different source or an empty channel
// id are excluded. Returns nil when no channel matches. Results are
// memoized per (buyer, source, settings revision) so concurrent call
// sites cannot diverge; a settings edit changes the revision and the
// stale entry is never consulted again.
func (r *Resolver) Resolve(buyerID snowflake.ID, source string, channels []channeldomain.Channel) map[string]Window {
	key := memoKey(buyerID, source, channels)
	if windows, ok := r.memo.Get(key); ok {
		return windows
	}

	var windows map[string]Window
	for _, ch := range channels {
		if ch.Source != source || ch.ChannelID == "" {
			continue
		}
		if windows == nil {
			windows = make(map[string]Window)
		}
		windows[ch.ChannelID] = Window{From: ch.AccessGranted, Until: ch.AccessLimited}
	}

	r.memo.Set(key, windows, memoTTL)
	return windows
}

func memoKey(buyerID snowflake.ID, source string, channels []channeldomain.Channel) string {
	h := fnv.New64a()
	for _, ch := range channels {
		fmt.Fprintf(h, "%s|%s|%s|%s;", ch.Source, ch.ChannelID, stamp(ch.AccessGranted), stamp(ch.AccessLimited))
	}
	return fmt.Sprintf("%d|%s|%x", buyerID, source, h.Sum64())
}

func stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Contains reports whether day falls inside the window, bounds inclusive.
// Comparison is at day granularity in UTC.
func (w Window) Contains(day time.Time) bool {
	d := truncateDay(day)
	if w.From != nil && d.Before(truncateDay(*w.From)) {
		return false
	}
	if w.Until != nil && d.After(truncateDay(*w.Until)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
