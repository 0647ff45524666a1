// Package servicetest provides in-memory implementations of the JobService ports.
package servicetest

import (
	"context"
	"sort"
	"sync"

	"github.com/feelware/dvp/internal/api/domain"
	"github.com/feelware/dvp/internal/api/model"
	"github.com/feelware/dvp/internal/api/storage"
)

// Object is a stored upload
type Object struct {
	Data        []byte
	ContentType string
}

// ObjectStore keeps objects in memory, keyed by "<bucket>/<key>"
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string]Object
	calls   int

	// Err, when set, is returned by Put instead of storing
	Err error
	// Block makes Put wait for ctx to be done
	Block bool
	// OnPut, when set, runs after an object is stored
	OnPut func()
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]Object)}
}

func (s *ObjectStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	s.mu.Lock()
	s.calls++
	block, err := s.Block, s.Err
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.objects[bucket+"/"+key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	onPut := s.OnPut
	s.mu.Unlock()

	if onPut != nil {
		onPut()
	}
	return nil
}

// Get returns the object stored at path
func (s *ObjectStore) Get(path string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Len returns the number of stored objects
func (s *ObjectStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Calls returns how many times Put was invoked
func (s *ObjectStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// JobStore keeps job records in memory
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]model.Job

	CreateErr error
	GetErr    error
	QueryErr  error

	// OnCreate, when set, runs after a record is created
	OnCreate func()

	getCalls int
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]model.Job)}
}

func (s *JobStore) Create(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	if s.CreateErr != nil {
		s.mu.Unlock()
		return s.CreateErr
	}
	if _, exists := s.jobs[job.JobID]; exists {
		s.mu.Unlock()
		return domain.ErrDuplicateJobID
	}
	s.jobs[job.JobID] = *job
	onCreate := s.OnCreate
	s.mu.Unlock()

	if onCreate != nil {
		onCreate()
	}
	return nil
}

func (s *JobStore) GetByID(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (s *JobStore) Query(_ context.Context, filter storage.JobFilter) ([]model.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.QueryErr != nil {
		return nil, 0, s.QueryErr
	}

	matched := make([]model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].JobID > matched[j].JobID
	})

	total := len(matched)
	if filter.Offset >= total {
		return []model.Job{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

// Put stores job directly, bypassing CreateErr
func (s *JobStore) Put(job model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job
}

// SetStatus moves a job to status, as the processing cluster would
func (s *JobStore) SetStatus(jobID string, status domain.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	job.Status = status
	s.jobs[jobID] = job
}

// Len returns the number of stored jobs
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// GetCalls returns how many times GetByID was invoked
func (s *JobStore) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

// Message is a published queue message
type Message struct {
	ID          string
	Body        []byte
	ContentType string
}

// Publisher records published messages in memory
type Publisher struct {
	mu       sync.Mutex
	messages []Message

	Err error
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Publish(_ context.Context, messageID string, body []byte, contentType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	p.messages = append(p.messages, Message{ID: messageID, Body: append([]byte(nil), body...), ContentType: contentType})
	return nil
}

// Messages returns a copy of the published messages
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}
