package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/xhscollect/internal/config"
	"github.com/ibeckermayer/xhscollect/internal/export"
	"github.com/ibeckermayer/xhscollect/internal/types"
)

func TestReportSummary(t *testing.T) {
	comments := []types.Comment{{ID: 1, Content: "a"}, {ID: 2, Content: "b"}, {ID: 3, Content: "c"}}

	tests := []struct {
		name string
		meta export.Meta
		want string
	}{
		{"known total", export.Meta{Expected: 4, Actual: 3}, "partial: 3/4 comments (75%)"},
		{"complete", export.Meta{Expected: 3, Actual: 3}, "complete: 3/3 comments (100%)"},
		{"unknown total", export.Meta{Actual: 5}, "partial: 3/? comments"},
		{"unknown total with end marker", export.Meta{Actual: 3, HasEnd: true}, "complete: 3/? comments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reportSummary(export.BuildReport(comments, tt.meta)))
		})
	}
}

func TestNewApp_FirstRun(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home+"/config")
	t.Setenv("XDG_CACHE_HOME", home+"/cache")

	a, done, err := newApp()
	require.NoError(t, err)
	defer done()

	path, err := config.ConfigPath()
	require.NoError(t, err)
	assert.FileExists(t, path, "default config written on first run")

	settings, err := a.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.DefaultSettings(), settings)
	assert.False(t, a.IsAuthenticated())
}
