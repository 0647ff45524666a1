package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/feelware/dvp/internal/api/domain"
	"github.com/feelware/dvp/internal/api/service"
	"github.com/feelware/dvp/internal/api/service/servicetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "videos"

type fixture struct {
	svc       *service.JobService
	objects   *servicetest.ObjectStore
	jobs      *servicetest.JobStore
	publisher *servicetest.Publisher
}

// steppingClock returns start, start+1s, start+2s, ...
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Second)
		return t
	}
}

func newFixture(t *testing.T, mutate func(*service.Config), opts ...service.Option) *fixture {
	t.Helper()

	cfg := service.Config{
		Bucket:            testBucket,
		AllowedExtensions: []string{".mp4", ".mov"},
		MaxFileSize:       1024,
		StorageTimeout:    time.Second,
		RecordTimeout:     time.Second,
		PublishTimeout:    time.Second,
		QueryTimeout:      time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		objects:   servicetest.NewObjectStore(),
		jobs:      servicetest.NewJobStore(),
		publisher: servicetest.NewPublisher(),
	}
	f.svc = service.NewJobService(f.objects, f.jobs, f.publisher, cfg, slog.New(slog.DiscardHandler), opts...)
	return f
}

func validRequest() service.SubmitRequest {
	return service.SubmitRequest{
		File:     []byte("fake video bytes"),
		Filename: "clip.mp4",
		Task:     "grayscale",
		Params:   `{"quality": "high", "fps": 30}`,
	}
}

func (f *fixture) assertNoSideEffects(t *testing.T) {
	t.Helper()
	assert.Equal(t, 0, f.objects.Calls())
	assert.Equal(t, 0, f.jobs.Len())
	assert.Empty(t, f.publisher.Messages())
}

func TestSubmit_Success(t *testing.T) {
	start := time.Date(2024, 3, 5, 23, 59, 58, 123456789, time.FixedZone("UTC-3", -3*3600))
	jobID := uuid.NewString()
	f := newFixture(t, nil,
		service.WithClock(func() time.Time { return start }),
		service.WithIDGenerator(func() string { return jobID }),
	)

	result, err := f.svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	// UTC date is the next day
	wantKey := "uploads/20240306/video_" + jobID + ".mp4"
	assert.Equal(t, jobID, result.JobID)
	assert.Equal(t, testBucket+"/"+wantKey, result.VideoPath)
	assert.Equal(t, "grayscale", result.Task)
	assert.JSONEq(t, `{"quality":"high","fps":30}`, string(result.Params))
	assert.Equal(t, domain.JobStatusPending, result.Status)
	assert.Equal(t, start.UTC().Truncate(time.Microsecond), result.CreatedAt)

	obj, ok := f.objects.Get(result.VideoPath)
	require.True(t, ok)
	assert.Equal(t, []byte("fake video bytes"), obj.Data)
	assert.Equal(t, "video/mp4", obj.ContentType)

	job, err := f.svc.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, "grayscale", job.Task)
	assert.JSONEq(t, string(result.Params), string(job.Params))
	assert.Equal(t, result.VideoPath, job.VideoPath)
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
	assert.False(t, job.ErrorMessage.Valid)

	messages := f.publisher.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, jobID, messages[0].ID)
	assert.Equal(t, "application/json", messages[0].ContentType)

	var msg domain.JobMessage
	require.NoError(t, json.Unmarshal(messages[0].Body, &msg))
	assert.Equal(t, jobID, msg.JobID)
	assert.Equal(t, result.VideoPath, msg.VideoPath)
	assert.Equal(t, "grayscale", msg.Task)
	assert.JSONEq(t, `{"quality":"high","fps":30}`, string(msg.Params))
	assert.Equal(t, "2024-03-06T02:59:58Z", msg.CreatedAt)
}

func TestSubmit_ExtensionPolicy(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  bool
		wantExt  string
	}{
		{name: "allowed", filename: "clip.mp4", wantExt: ".mp4"},
		{name: "second allowed", filename: "clip.mov", wantExt: ".mov"},
		{name: "upper case is lowered", filename: "CLIP.MP4", wantExt: ".mp4"},
		{name: "mixed case", filename: "holiday.Mov", wantExt: ".mov"},
		{name: "disallowed", filename: "clip.avi", wantErr: true},
		{name: "no extension", filename: "clip", wantErr: true},
		{name: "extension only in dir", filename: "dir.mp4/clip", wantErr: true},
		{name: "double extension", filename: "clip.mp4.exe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			req := validRequest()
			req.Filename = tt.filename

			result, err := f.svc.Submit(context.Background(), req)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrValidation)
				assert.Nil(t, result)

				var submitErr *domain.SubmitError
				require.ErrorAs(t, err, &submitErr)
				assert.Equal(t, domain.StepValidate, submitErr.Step)
				assert.Empty(t, submitErr.JobID)
				f.assertNoSideEffects(t)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantExt, result.VideoPath[len(result.VideoPath)-len(tt.wantExt):])
		})
	}
}

func TestSubmit_SizePolicy(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{name: "one byte", size: 1},
		{name: "exactly the limit", size: 1024},
		{name: "one over the limit", size: 1025, wantErr: domain.ErrFileTooLarge},
		{name: "empty", size: 0, wantErr: domain.ErrEmptyFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			req := validRequest()
			req.File = make([]byte, tt.size)

			_, err := f.svc.Submit(context.Background(), req)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrValidation)
				assert.ErrorIs(t, err, tt.wantErr)
				f.assertNoSideEffects(t)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, f.objects.Len())
		})
	}
}

func TestSubmit_TaskRequired(t *testing.T) {
	for _, task := range []string{"", "   ", "\t\n"} {
		f := newFixture(t, nil)
		req := validRequest()
		req.Task = task

		_, err := f.svc.Submit(context.Background(), req)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrValidation)
		f.assertNoSideEffects(t)
	}
}

func TestSubmit_Params(t *testing.T) {
	tests := []struct {
		name       string
		params     string
		wantParams string
		wantErr    bool
	}{
		{name: "empty means empty object", params: "", wantParams: `{}`},
		{name: "whitespace means empty object", params: "  \n", wantParams: `{}`},
		{name: "compacted", params: "{ \"a\" : 1,\n \"b\": [1, 2] }", wantParams: `{"a":1,"b":[1,2]}`},
		{name: "nested object", params: `{"crop":{"x":10,"y":20}}`, wantParams: `{"crop":{"x":10,"y":20}}`},
		{name: "not json", params: "quality=high", wantErr: true},
		{name: "truncated", params: `{"a": 1`, wantErr: true},
		{name: "array", params: `[1, 2]`, wantErr: true},
		{name: "string", params: `"high"`, wantErr: true},
		{name: "number", params: `42`, wantErr: true},
		{name: "null", params: `null`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			req := validRequest()
			req.Params = tt.params

			result, err := f.svc.Submit(context.Background(), req)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrMalformedInput)
				assert.NotErrorIs(t, err, domain.ErrValidation)
				f.assertNoSideEffects(t)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantParams, string(result.Params))

			job, err := f.svc.GetStatus(context.Background(), result.JobID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantParams, string(job.Params))
		})
	}
}

func TestSubmit_DistinctJobs(t *testing.T) {
	f := newFixture(t, nil)

	first, err := f.svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	second, err := f.svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEqual(t, first.JobID, second.JobID)
	assert.NotEqual(t, first.VideoPath, second.VideoPath)
	assert.Equal(t, 2, f.objects.Len())
	assert.Equal(t, 2, f.jobs.Len())
	assert.Len(t, f.publisher.Messages(), 2)
}

func TestSubmit_ConcurrentSubmissions(t *testing.T) {
	f := newFixture(t, nil)

	const n = 20
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.Submit(context.Background(), validRequest())
			if assert.NoError(t, err) {
				ids <- result.JobID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate job id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, f.jobs.Len())
}

func TestSubmit_StorageFailure(t *testing.T) {
	f := newFixture(t, nil)
	cause := errors.New("bucket unreachable")
	f.objects.Err = cause

	result, err := f.svc.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrStorageWrite)
	assert.ErrorIs(t, err, cause)

	var submitErr *domain.SubmitError
	require.ErrorAs(t, err, &submitErr)
	assert.Equal(t, domain.StepStore, submitErr.Step)
	assert.NotEmpty(t, submitErr.JobID)
	assert.Empty(t, submitErr.VideoPath)

	assert.Equal(t, 0, f.jobs.Len())
	assert.Empty(t, f.publisher.Messages())
}

func TestSubmit_StorageTimeout(t *testing.T) {
	f := newFixture(t, func(c *service.Config) { c.StorageTimeout = 20 * time.Millisecond })
	f.objects.Block = true

	_, err := f.svc.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorageWrite)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, f.jobs.Len())
}

func TestSubmit_RecordFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.jobs.CreateErr = errors.New("connection reset")

	_, err := f.svc.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRecordCreation)

	var submitErr *domain.SubmitError
	require.ErrorAs(t, err, &submitErr)
	assert.Equal(t, domain.StepRecord, submitErr.Step)

	// the stored object is reported so it can be reconciled
	_, ok := f.objects.Get(submitErr.VideoPath)
	assert.True(t, ok)
	assert.Empty(t, f.publisher.Messages())
}

func TestSubmit_DuplicateJobID(t *testing.T) {
	jobID := uuid.NewString()
	f := newFixture(t, nil, service.WithIDGenerator(func() string { return jobID }))

	_, err := f.svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRecordCreation)
	assert.ErrorIs(t, err, domain.ErrDuplicateJobID)
	assert.Len(t, f.publisher.Messages(), 1)
}

func TestSubmit_PublishFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.publisher.Err = errors.New("broker down")

	result, err := f.svc.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrPublish)

	var submitErr *domain.SubmitError
	require.ErrorAs(t, err, &submitErr)
	assert.Equal(t, domain.StepPublish, submitErr.Step)
	assert.NotEmpty(t, submitErr.VideoPath)

	// the record stays pending and queryable
	job, err := f.svc.GetStatus(context.Background(), submitErr.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, submitErr.VideoPath, job.VideoPath)
}

func TestSubmit_CancelledContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Submit(ctx, validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorageWrite)
	assert.ErrorIs(t, err, context.Canceled)
	f.assertNoSideEffects(t)
}

func TestSubmit_CancelledBetweenSteps(t *testing.T) {
	tests := []struct {
		name       string
		cancelOn   func(f *fixture, cancel context.CancelFunc)
		wantKind   error
		wantStep   domain.Step
		wantRecord bool
	}{
		{
			name: "after store",
			cancelOn: func(f *fixture, cancel context.CancelFunc) {
				f.objects.OnPut = cancel
			},
			wantKind:   domain.ErrRecordCreation,
			wantStep:   domain.StepRecord,
			wantRecord: false,
		},
		{
			name: "after record",
			cancelOn: func(f *fixture, cancel context.CancelFunc) {
				f.jobs.OnCreate = cancel
			},
			wantKind:   domain.ErrPublish,
			wantStep:   domain.StepPublish,
			wantRecord: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			tt.cancelOn(f, cancel)

			_, err := f.svc.Submit(ctx, validRequest())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.ErrorIs(t, err, context.Canceled)

			var submitErr *domain.SubmitError
			require.ErrorAs(t, err, &submitErr)
			assert.Equal(t, tt.wantStep, submitErr.Step)
			require.NotEmpty(t, submitErr.VideoPath)

			// completed steps are not undone
			_, stored := f.objects.Get(submitErr.VideoPath)
			assert.True(t, stored)
			assert.Equal(t, 1, f.objects.Len())
			assert.Empty(t, f.publisher.Messages())

			if tt.wantRecord {
				require.Equal(t, 1, f.jobs.Len())
				job, err := f.svc.GetStatus(context.Background(), submitErr.JobID)
				require.NoError(t, err)
				assert.Equal(t, domain.JobStatusPending, job.Status)
				assert.Equal(t, submitErr.VideoPath, job.VideoPath)
			} else {
				assert.Equal(t, 0, f.jobs.Len())
			}
		})
	}
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("unknown id", func(t *testing.T) {
		_, err := f.svc.GetStatus(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})

	t.Run("malformed id", func(t *testing.T) {
		before := f.jobs.GetCalls()
		_, err := f.svc.GetStatus(context.Background(), "not-a-uuid")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
		assert.Equal(t, before, f.jobs.GetCalls())
	})

	t.Run("empty id", func(t *testing.T) {
		for _, id := range []string{"", " "} {
			before := f.jobs.GetCalls()
			_, err := f.svc.GetStatus(context.Background(), id)
			assert.ErrorIs(t, err, domain.ErrJobNotFound)
			assert.NotErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, before, f.jobs.GetCalls())
		}
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t, nil)
		f.jobs.GetErr = errors.New("timeout")

		_, err := f.svc.GetStatus(context.Background(), uuid.NewString())
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrJobNotFound)
		assert.Contains(t, err.Error(), "failed to get job")
	})

	t.Run("reflects external status changes", func(t *testing.T) {
		result, err := f.svc.Submit(context.Background(), validRequest())
		require.NoError(t, err)

		f.jobs.SetStatus(result.JobID, domain.JobStatusCompleted)

		job, err := f.svc.GetStatus(context.Background(), result.JobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
	})
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, nil, service.WithClock(steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))

	var ids []string
	for i := 0; i < 3; i++ {
		result, err := f.svc.Submit(context.Background(), validRequest())
		require.NoError(t, err)
		ids = append(ids, result.JobID)
	}

	t.Run("first page of pending jobs, newest first", func(t *testing.T) {
		page, err := f.svc.ListJobs(context.Background(), service.ListRequest{Status: domain.JobStatusPending, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, 2, page.Limit)
		assert.Equal(t, 0, page.Offset)
		require.Len(t, page.Jobs, 2)
		assert.Equal(t, ids[2], page.Jobs[0].JobID)
		assert.Equal(t, ids[1], page.Jobs[1].JobID)
	})

	t.Run("second page", func(t *testing.T) {
		page, err := f.svc.ListJobs(context.Background(), service.ListRequest{Status: domain.JobStatusPending, Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Jobs, 1)
		assert.Equal(t, ids[0], page.Jobs[0].JobID)
	})

	t.Run("offset past the end", func(t *testing.T) {
		page, err := f.svc.ListJobs(context.Background(), service.ListRequest{Limit: 10, Offset: 10})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Empty(t, page.Jobs)
	})

	t.Run("status with no jobs", func(t *testing.T) {
		page, err := f.svc.ListJobs(context.Background(), service.ListRequest{Status: domain.JobStatusFailed, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 0, page.Total)
		assert.Empty(t, page.Jobs)
	})

	t.Run("invalid requests", func(t *testing.T) {
		for _, req := range []service.ListRequest{
			{Status: "running", Limit: 10},
			{Limit: -1},
			{Limit: 10, Offset: -1},
		} {
			_, err := f.svc.ListJobs(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t, nil)
		f.jobs.QueryErr = errors.New("boom")

		_, err := f.svc.ListJobs(context.Background(), service.ListRequest{Limit: 10})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list jobs")
	})
}

func TestObjectKey(t *testing.T) {
	ts := time.Date(2025, 12, 31, 23, 0, 0, 0, time.FixedZone("UTC+2", 2*3600))
	assert.Equal(t, "uploads/20251231/video_abc.mp4", service.ObjectKey(ts, "abc", ".mp4"))
}
