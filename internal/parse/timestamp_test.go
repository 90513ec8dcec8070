package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	testCases := []struct {
		name      string
		raw       string
		loc       *time.Location
		expected  time.Time
		expectErr bool
	}{
		{
			name:     "datetime-local in UTC",
			raw:      "2026-10-17T09:30",
			loc:      time.UTC,
			expected: time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC),
		},
		{
			name:     "datetime-local in booking zone",
			raw:      "2026-10-17T09:30",
			loc:      kolkata,
			expected: time.Date(2026, 10, 17, 4, 0, 0, 0, time.UTC),
		},
		{
			name:     "space separated with seconds",
			raw:      " 2026-10-17 09:30:15 ",
			loc:      nil,
			expected: time.Date(2026, 10, 17, 9, 30, 15, 0, time.UTC),
		},
		{
			name:     "RFC 3339 with offset ignores loc",
			raw:      "2026-10-17T09:30:00+02:00",
			loc:      kolkata,
			expected: time.Date(2026, 10, 17, 7, 30, 0, 0, time.UTC),
		},
		{
			name:     "RFC 3339 with fraction",
			raw:      "2026-10-17T09:30:00.123456Z",
			loc:      time.UTC,
			expected: time.Date(2026, 10, 17, 9, 30, 0, 123456000, time.UTC),
		},
		{name: "empty", raw: "  ", loc: time.UTC, expectErr: true},
		{name: "garbage", raw: "tomorrow", loc: time.UTC, expectErr: true},
		{name: "bad zone form", raw: "2026-10-17 09:30Z", loc: time.UTC, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Timestamp(tc.raw, tc.loc)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.expected.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestOptionalTimestamp(t *testing.T) {
	got, err := OptionalTimestamp("", time.UTC)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = OptionalTimestamp("2026-10-17T10:00", time.UTC)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 10, got.Hour())

	_, err = OptionalTimestamp("nope", time.UTC)
	assert.Error(t, err)
}

func TestID(t *testing.T) {
	id, err := ID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "0", "-3", "abc", "1.5"} {
		_, err := ID(raw)
		assert.Error(t, err, raw)
	}
}
