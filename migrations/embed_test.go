package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesEmbedded(t *testing.T) {
	names, err := fs.Glob(Files, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_realtime_core.sql", names[0])

	body, err := Files.ReadFile(names[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "uq_calls_active_pair")
	assert.Contains(t, string(body), "PRIMARY KEY (status_id, viewer_id)")
}
