package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/scrapeline/scrapeline/internal/scrape"
	"github.com/scrapeline/scrapeline/internal/store"
)

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	id := uuid.New()
	job := &scrape.Job{
		ID:        id,
		TeamID:    "team-1",
		Seed:      "http://site.test",
		Policy:    scrape.CrawlPolicy{MaxDepth: 2, MaxCrawledLinks: 10},
		Options:   scrape.PageOptions{OnlyMainContent: true},
		Status:    scrape.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(
			id, "team-1", "http://site.test",
			[]byte(`{"maxDepth":2,"maxCrawledLinks":10}`),
			[]byte(`{"onlyMainContent":true}`),
			"queued", 0, 0, "",
			now, now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{
		"id", "team_id", "seed", "policy", "options", "status",
		"current", "total", "error", "created_at", "updated_at",
	}).AddRow(
		id, "team-1", "http://site.test",
		[]byte(`{"maxDepth":2}`), []byte(`{}`), "active",
		3, 9, "", now, now,
	)
	mock.ExpectQuery("SELECT id, team_id").WithArgs(id).WillReturnRows(rows)

	job, err := s.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, scrape.StatusActive, job.Status)
	require.Equal(t, 2, job.Policy.MaxDepth)
	require.Equal(t, 3, job.Current)
	require.Equal(t, 9, job.Total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectQuery("SELECT id, team_id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err = s.GetJob(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(id, "completed", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = s.UpdateJobStatus(context.Background(), id, scrape.StatusCompleted, "")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendResultRef(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectExec("INSERT INTO job_results").
		WithArgs(id, 4, "http://site.test/p", "file:///tmp/p.html", 200).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ref := scrape.ResultRef{JobID: id, Index: 4, URL: "http://site.test/p", Ref: "file:///tmp/p.html", StatusCode: 200}
	require.NoError(t, s.AppendResultRef(context.Background(), ref))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListResultRefs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	id := uuid.New()
	rows := pgxmock.NewRows([]string{"job_id", "idx", "url", "ref", "status_code"}).
		AddRow(id, 0, "http://site.test/a", "ref-a", 200).
		AddRow(id, 1, "http://site.test/b", "ref-b", 404)
	mock.ExpectQuery("SELECT job_id, idx").WithArgs(id).WillReturnRows(rows)

	refs, err := s.ListResultRefs(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, "http://site.test/a", refs[0].URL)
	require.Equal(t, 404, refs[1].StatusCode)
	require.NoError(t, mock.ExpectationsWereMet())
}
