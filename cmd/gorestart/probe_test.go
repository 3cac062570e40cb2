package main

import (
	"testing"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectServers(t *testing.T) {
	all := []models.Server{
		{ID: "web", Name: "web-01"},
		{ID: "db", Name: "db-01"},
		{ID: "cache", Name: "cache-01"},
	}

	t.Run("no ids selects all", func(t *testing.T) {
		got, err := selectServers(all, nil)
		require.NoError(t, err)
		assert.Equal(t, all, got)
	})

	t.Run("keeps requested order", func(t *testing.T) {
		got, err := selectServers(all, []string{"cache", "web"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "cache", got[0].ID)
		assert.Equal(t, "web", got[1].ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := selectServers(all, []string{"web", "nope"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown server "nope"`)
	})
}
