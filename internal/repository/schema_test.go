package repository

import (
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaKeepsRefreshTokenRows(t *testing.T) {
	raw, err := os.ReadFile("../../db/schema.sql")
	require.NoError(t, err)
	schema := string(raw)

	assert.NotContains(t, schema, "ON DELETE CASCADE")
	assert.Regexp(t, regexp.MustCompile(`user_id\s+BIGINT NOT NULL REFERENCES users \(id\) ON DELETE RESTRICT`), schema)
	assert.Regexp(t, regexp.MustCompile(`CREATE UNIQUE INDEX IF NOT EXISTS refresh_tokens_lookup_idx ON refresh_tokens \(lookup_id\)`), schema)
}
