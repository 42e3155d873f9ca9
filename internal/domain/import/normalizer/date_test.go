package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	jan15 := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		value   string
		pattern string
		want    time.Time
		wantErr bool
	}{
		{"us", "01/15/2024", "%m/%d/%Y", jan15, false},
		{"us unpadded", "1/15/2024", "%m/%d/%Y", jan15, false},
		{"european", "15/01/2024", "%d/%m/%Y", jan15, false},
		{"iso", "2024-01-15", "%Y-%m-%d", jan15, false},
		{"dashed us", "01-15-2024", "%m-%d-%Y", jan15, false},
		{"two digit year", "01/15/24", "%m/%d/%y", jan15, false},
		{"iso datetime", "2024-01-15T13:45:00", ISODateTime, jan15, false},
		{"iso datetime with zone", "2024-01-15T13:45:00Z", ISODateTime, jan15, false},
		{"portuguese dashes", "15-01-2024", "%d-%m-%Y", jan15, false},
		{"wrong order", "15/01/2024", "%m/%d/%Y", time.Time{}, true},
		{"four digit under two digit pattern", "01/15/2024", "%m/%d/%y", time.Time{}, true},
		{"empty", "", "%Y-%m-%d", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.value, tt.pattern)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDate)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLayout(t *testing.T) {
	layout, err := Layout("%d/%m/%Y")
	require.NoError(t, err)
	assert.Equal(t, "2/1/2006", layout)

	_, err = Layout("%Q")
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = Layout("%Y-%")
	assert.Error(t, err)
}

func TestDateDisplay(t *testing.T) {
	assert.Equal(t, "MM/DD/YYYY", DateDisplay("%m/%d/%Y"))
	assert.Equal(t, "YYYY-MM-DD", DateDisplay("%Y-%m-%d"))
}
