package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host":     "db",
		"port":     float64(6543),
		"user":     "orm",
		"password": "p@ss/word",
		"database": "world",
	})
	require.NoError(t, err)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "require", cfg.SSLMode)

	conn := buildConnectionString(cfg)
	assert.Contains(t, conn, "orm:p%40ss%2Fword@")
	assert.Contains(t, conn, "/world?sslmode=require")
}

func TestFromMap_MissingFields(t *testing.T) {
	_, err := FromMap(map[string]any{"user": "u", "database": "d"})
	assert.ErrorContains(t, err, "host")

	_, err = FromMap(map[string]any{"host": "h", "database": "d"})
	assert.ErrorContains(t, err, "user")

	_, err = FromMap(map[string]any{"host": "h", "user": "u"})
	assert.ErrorContains(t, err, "database")
}

func TestMapTableType(t *testing.T) {
	assert.Equal(t, "TABLE", mapTableType("BASE TABLE"))
	assert.Equal(t, "VIEW", mapTableType("VIEW"))
	assert.Equal(t, "TEMP", mapTableType("LOCAL TEMPORARY"))
	assert.Equal(t, "TABLE", mapTableType("FOREIGN"))
}
