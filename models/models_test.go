package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRecord(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		prefix string
		want   Record
	}{
		{"prefix and padding", "  Port: 80/tcp \n", DefaultRecordPrefix, "80/tcp"},
		{"no prefix present", "443/tcp", DefaultRecordPrefix, "443/tcp"},
		{"prefix only stripped at start", "Port: Port: 1/udp", DefaultRecordPrefix, "Port: 1/udp"},
		{"inner spaces kept", "\tPort:  8080 / tcp ", DefaultRecordPrefix, "8080 / tcp"},
		{"empty prefix", " Port: 22 ", "", "Port: 22"},
		{"blank", "   ", DefaultRecordPrefix, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRecord(tt.raw, tt.prefix))
		})
	}
}

func TestResultSet_SnapshotIsCopy(t *testing.T) {
	var rs ResultSet
	rs.Append("a", "b")
	rs.Append("c")

	snap := rs.Snapshot()
	require.Equal(t, []Record{"a", "b", "c"}, snap)

	snap[0] = "mutated"
	assert.Equal(t, []Record{"a", "b", "c"}, rs.Snapshot())
	assert.Equal(t, 3, rs.Len())
}

func TestScrapeError_IsMatchesCode(t *testing.T) {
	cause := context.DeadlineExceeded
	err := fmt.Errorf("page 3: %w", NewScrapeError(ErrCodeNavTimeout, "next page did not load", cause))

	assert.True(t, errors.Is(err, ErrNavigationTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, ErrStaleElement))
	assert.Equal(t, ErrCodeNavTimeout, CodeOf(err))
	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("plain")))
}

func TestScrapeError_Message(t *testing.T) {
	err := NewScrapeError(ErrCodeSinkWrite, "csv", errors.New("disk full"))
	assert.Equal(t, "SINK_WRITE_FAILED: csv: disk full", err.Error())
	assert.Equal(t, "STALE_ELEMENT", ErrStaleElement.Error())
}
