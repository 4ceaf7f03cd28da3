package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestArticleKeyExtraction(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"1234-facebook-promo", "1234"},
		{"1234_summer", "1234"},
		{"1234|tier2", "1234"},
		{"1234:eu", "1234"},
		{"1234 promo", "1234"},
		// Earliest delimiter wins regardless of kind.
		{"12_34-56", "12"},
		{"nodash", "nodash"},
		{"  5678-x  ", "5678"},
		{"", ""},
		{"   ", ""},
		{"-leading", ""},
	}
	for _, tt := range tests {
		a := Assignment{CampaignLabel: tt.label}
		require.Equal(t, tt.want, a.ArticleKey(), "label %q", tt.label)
	}
}

func TestDaysSince(t *testing.T) {
	created := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	a := Assignment{CreatedAt: created}

	require.Equal(t, 0, a.DaysSince(created.Add(23*time.Hour)))
	require.Equal(t, 1, a.DaysSince(created.Add(25*time.Hour)))
	require.Equal(t, 14, a.DaysSince(created.AddDate(0, 0, 14)))
	// Clock skew never reports negative ages.
	require.Equal(t, 0, a.DaysSince(created.Add(-time.Hour)))
}
