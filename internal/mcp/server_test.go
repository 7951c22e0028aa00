package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvdjg/mcp-winuae-emu/internal/rsp"
)

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"0xDFF000", 0xDFF000, true},
		{"dff000", 0xDFF000, true},
		{"$DFF180", 0xDFF180, true},
		{" 0X20000 ", 0x20000, true},
		{"0", 0, true},
		{"", 0, false},
		{"0xG", 0, false},
		{"123456789AB", 0, false}, // beyond 32 bits
	}
	for _, tt := range tests {
		got, err := parseAddr(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseWatchKind(t *testing.T) {
	for in, want := range map[string]rsp.WatchKind{
		"":       rsp.WatchWrite,
		"write":  rsp.WatchWrite,
		"Read":   rsp.WatchRead,
		"ACCESS": rsp.WatchAccess,
	} {
		got, err := parseWatchKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseWatchKind("hardware")
	assert.Error(t, err)
}
