package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Setenv("ACTUAL_SYNC_TEST_DIR", "/var/data")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "absolute path untouched", in: "/etc/budget.db", want: "/etc/budget.db"},
		{name: "bare tilde", in: "~", want: home},
		{name: "tilde prefix", in: "~/budget.db", want: filepath.Join(home, "budget.db")},
		{name: "env var", in: "$ACTUAL_SYNC_TEST_DIR/budget.db", want: "/var/data/budget.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}

func TestDefaultDir(t *testing.T) {
	dir := DefaultDir()
	assert.NotEmpty(t, dir)
	assert.Contains(t, dir, "actual-sync")
}
