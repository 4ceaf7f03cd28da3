package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	channeldomain "github.com/adlift/trafficdesk/internal/channel/domain"
)

func tp(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestResolveFiltersSourceAndEmptyIDs(t *testing.T) {
	r := NewResolver()
	channels := []channeldomain.Channel{
		{BuyerID: 1, Source: "facebook", ChannelID: "fb-1", AccessGranted: tp(2024, 1, 1)},
		{BuyerID: 1, Source: "google", ChannelID: "g-1"},
		{BuyerID: 1, Source: "facebook", ChannelID: ""},
	}

	windows := r.Resolve(1, "facebook", channels)
	require.Len(t, windows, 1)
	w, ok := windows["fb-1"]
	require.True(t, ok)
	require.Equal(t, *tp(2024, 1, 1), *w.From)
	require.Nil(t, w.Until)
}

func TestResolveNoMatchReturnsNil(t *testing.T) {
	r := NewResolver()
	channels := []channeldomain.Channel{
		{BuyerID: 1, Source: "google", ChannelID: "g-1"},
	}
	require.Nil(t, r.Resolve(1, "facebook", channels))
	require.Nil(t, r.Resolve(1, "facebook", nil))
}

func TestResolveRecomputesOnSettingsChange(t *testing.T) {
	r := NewResolver()
	channels := []channeldomain.Channel{
		{BuyerID: 7, Source: "tiktok", ChannelID: "tt-1", AccessLimited: nil},
	}
	first := r.Resolve(7, "tiktok", channels)
	require.Nil(t, first["tt-1"].Until)

	// The admin closes the window; the memo key changes with the
	// settings, so the stale entry is never consulted.
	channels[0].AccessLimited = tp(2024, 6, 30)
	second := r.Resolve(7, "tiktok", channels)
	require.NotNil(t, second["tt-1"].Until)
	require.Equal(t, *tp(2024, 6, 30), *second["tt-1"].Until)
}

func TestWindowContains(t *testing.T) {
	w := Window{From: tp(2024, 7, 10), Until: tp(2024, 7, 20)}
	require.True(t, w.Contains(time.Date(2024, 7, 10, 23, 59, 0, 0, time.UTC)))
	require.True(t, w.Contains(time.Date(2024, 7, 20, 0, 0, 1, 0, time.UTC)))
	require.False(t, w.Contains(time.Date(2024, 7, 9, 12, 0, 0, 0, time.UTC)))
	require.False(t, w.Contains(time.Date(2024, 7, 21, 0, 0, 0, 0, time.UTC)))

	open := Window{}
	require.True(t, open.Contains(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.True(t, open.Contains(time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC)))
}
