package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"postgres", "postgres://u:p@db:5432/campaign_db?sslmode=disable", "pgx5://u:p@db:5432/campaign_db?sslmode=disable"},
		{"postgresql", "postgresql://u:p@db/campaign_db", "pgx5://u:p@db/campaign_db"},
		{"already pgx5", "pgx5://u:p@db/campaign_db", "pgx5://u:p@db/campaign_db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MigrationURL(tt.dsn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMigrationURL_RedactsCredentials(t *testing.T) {
	_, err := MigrationURL("mysql://root:secret@db/campaign_db")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
	assert.Contains(t, err.Error(), "mysql://***@db/campaign_db")
}
