package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	fps, vis, err := parseArgs([]string{"30"})
	require.NoError(t, err)
	assert.Equal(t, 30, fps)
	assert.False(t, vis)

	fps, vis, err = parseArgs([]string{"25", "gui"})
	require.NoError(t, err)
	assert.Equal(t, 25, fps)
	assert.True(t, vis)

	for _, args := range [][]string{
		nil,
		{"abc"},
		{"0"},
		{"-5"},
		{"30", "tui"},
		{"30", "gui", "extra"},
	} {
		_, _, err := parseArgs(args)
		assert.ErrorIs(t, err, errUsage, "%v", args)
	}
}
