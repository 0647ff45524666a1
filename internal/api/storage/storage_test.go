package storage

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/feelware/dvp/internal/api/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildListQuery(t *testing.T) {
	tests := []struct {
		name         string
		filter       JobFilter
		wantContains []string
		wantArgs     []interface{}
	}{
		{
			name:   "no status filter",
			filter: JobFilter{Limit: 50, Offset: 0},
			wantContains: []string{
				"FROM jobs ORDER BY",
				"ORDER BY created_at DESC, job_id DESC",
				"LIMIT $1 OFFSET $2",
			},
			wantArgs: []interface{}{50, 0},
		},
		{
			name:   "status filter shifts placeholders",
			filter: JobFilter{Status: domain.JobStatusPending, Limit: 2, Offset: 4},
			wantContains: []string{
				"WHERE status = $1",
				"LIMIT $2 OFFSET $3",
			},
			wantArgs: []interface{}{"pending", 2, 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListQuery(tt.filter)

			for _, s := range tt.wantContains {
				assert.Contains(t, query, s)
			}
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuildWhere(t *testing.T) {
	where, args := buildWhere(JobFilter{})
	assert.Empty(t, where)
	assert.Nil(t, args)

	where, args = buildWhere(JobFilter{Status: domain.JobStatusFailed})
	assert.Equal(t, " WHERE status = $1", where)
	assert.Equal(t, []interface{}{"failed"}, args)
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	data, err := fs.ReadFile(migrations, files[0])
	require.NoError(t, err)

	sql := string(data)
	assert.True(t, strings.HasPrefix(sql, "-- +goose Up"))
	assert.Contains(t, sql, "CREATE UNIQUE INDEX IF NOT EXISTS jobs_job_id_key ON jobs (job_id)")
	assert.Contains(t, sql, "-- +goose Down")
}
