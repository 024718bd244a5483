package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	options "github.com/kart-io/sentinel-rag/pkg/options/db"
)

func TestNewMemory(t *testing.T) {
	c, err := NewMemory(context.Background())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, options.DriverSQLite, c.Name())
	assert.NoError(t, c.Check(context.Background()))

	var n int
	require.NoError(t, c.DB().Raw("SELECT 1").Scan(&n).Error)
	assert.Equal(t, 1, n)
}

func TestNewSQLiteFile(t *testing.T) {
	opts := options.NewOptions()
	opts.Path = filepath.Join(t.TempDir(), "nested", "rag.db")

	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	assert.NoError(t, c.Close())
	assert.FileExists(t, opts.Path)
}

func TestNewInvalidDriver(t *testing.T) {
	opts := options.NewOptions()
	opts.Driver = "oracle"
	_, err := New(context.Background(), opts)
	assert.ErrorContains(t, err, "invalid database options")
}
