package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/cloo-solutions/tutorion/internal/domain"
	"github.com/cloo-solutions/tutorion/internal/retrieval"
	"github.com/cloo-solutions/tutorion/internal/telemetry"
)

// DocumentSource returns the raw documents of a corpus.
type DocumentSource interface {
	Documents(ctx context.Context, key domain.CorpusKey) ([]string, error)
}

// CorpusEngine is the retrieval engine surface the service drives.
type CorpusEngine interface {
	ProcessCorpus(ctx context.Context, key domain.CorpusKey, documents []string) error
	LoadCorpus(ctx context.Context, key domain.CorpusKey) (*retrieval.Corpus, error)
	Resolve(ctx context.Context, corpus *retrieval.Corpus, query string, k int) retrieval.Resolution
	DeleteCorpus(ctx context.Context, key domain.CorpusKey) error
}

// RebuildQueue stores asynchronous rebuild requests.
type RebuildQueue interface {
	Enqueue(ctx context.Context, job *domain.RebuildJob) (*domain.RebuildJob, error)
	GetByID(ctx context.Context, id string) (*domain.RebuildJob, error)
}

// Waker is notified when a job was queued.
type Waker interface {
	Wake()
}

// UUIDGenerator generates job IDs.
type UUIDGenerator interface {
	NewUUID() string
}

// DefaultUUIDGenerator generates random UUIDs.
type DefaultUUIDGenerator struct{}

func (g *DefaultUUIDGenerator) NewUUID() string {
	return uuid.NewString()
}

// RetrieveInput represents input for Retrieve
type RetrieveInput struct {
	Key   domain.CorpusKey
	Query string
	K     int
}

// RetrieveOutput represents output from Retrieve
type RetrieveOutput struct {
	Text     string
	Tier     retrieval.Tier
	Ordinals []int
	Score    float64
}

// CourseContextService keeps course corpora indexed and answers queries
// against them. Rebuilds and deletes of the same corpus never overlap.
type CourseContextService struct {
	engine  CorpusEngine
	source  DocumentSource
	queue   RebuildQueue
	waker   Waker
	uuidGen UUIDGenerator

	locks  keyedMutex
	builds singleflight.Group
}

// NewCourseContextService creates a service without asynchronous rebuilds.
func NewCourseContextService(engine CorpusEngine, source DocumentSource) *CourseContextService {
	return &CourseContextService{
		engine:  engine,
		source:  source,
		uuidGen: &DefaultUUIDGenerator{},
	}
}

// WithRebuildQueue enables EnqueueRebuild. waker may be nil.
func (s *CourseContextService) WithRebuildQueue(queue RebuildQueue, waker Waker, uuidGen UUIDGenerator) *CourseContextService {
	s.queue = queue
	s.waker = waker
	if uuidGen != nil {
		s.uuidGen = uuidGen
	}
	return s
}

// Rebuild fetches the documents of key and rebuilds its indexes.
func (s *CourseContextService) Rebuild(ctx context.Context, key domain.CorpusKey) error {
	if err := domain.ValidateCorpusKey(key); err != nil {
		return err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	return s.rebuildLocked(ctx, key)
}

func (s *CourseContextService) rebuildLocked(ctx context.Context, key domain.CorpusKey) error {
	ctx, span := telemetry.StartSpan(ctx, "service.rebuild", telemetry.SpanAttributes{
		OwnerID:   key.OwnerID,
		CorpusID:  key.CorpusID,
		Operation: "rebuild",
	})
	defer span.End()

	docs, err := s.source.Documents(ctx, key)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("failed to fetch documents: %w", err)
	}

	if err := s.engine.ProcessCorpus(ctx, key, docs); err != nil {
		span.SetError(err)
		return err
	}
	return nil
}

// EnsureIndexed returns the corpus of key, building it first when no saved
// index exists. Concurrent callers for the same key share one build.
func (s *CourseContextService) EnsureIndexed(ctx context.Context, key domain.CorpusKey) (*retrieval.Corpus, error) {
	if err := domain.ValidateCorpusKey(key); err != nil {
		return nil, err
	}

	corpus, err := s.engine.LoadCorpus(ctx, key)
	if err == nil {
		return corpus, nil
	}
	if !errors.Is(err, domain.ErrIndexNotFound) {
		return nil, err
	}

	log.Printf("corpus %s: no saved index (%v), building", key, err)
	// Shared by every caller waiting on key; outlives the caller that started it.
	buildCtx := context.WithoutCancel(ctx)
	ch := s.builds.DoChan(key.String(), func() (any, error) {
		unlock := s.locks.Lock(key)
		defer unlock()

		// Another caller may have finished a rebuild while we waited.
		if corpus, err := s.engine.LoadCorpus(buildCtx, key); err == nil {
			return corpus, nil
		} else if !errors.Is(err, domain.ErrIndexNotFound) {
			return nil, err
		}

		if err := s.rebuildLocked(buildCtx, key); err != nil {
			return nil, err
		}
		return s.engine.LoadCorpus(buildCtx, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*retrieval.Corpus), nil
	}
}

// Retrieve answers a query against the corpus of input.Key, indexing it first
// if needed.
func (s *CourseContextService) Retrieve(ctx context.Context, input RetrieveInput) (*RetrieveOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, domain.ErrMissingRequiredField.WithCause(fmt.Errorf("query is required"))
	}

	ctx, span := telemetry.StartSpan(ctx, "service.retrieve", telemetry.SpanAttributes{
		OwnerID:   input.Key.OwnerID,
		CorpusID:  input.Key.CorpusID,
		Operation: "retrieve",
	})
	defer span.End()

	corpus, err := s.EnsureIndexed(ctx, input.Key)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	start := time.Now()
	res := s.engine.Resolve(ctx, corpus, input.Query, input.K)
	span.SetData("tier", string(res.Tier))
	log.Printf("corpus %s: query resolved by %s tier in %s", input.Key, res.Tier, time.Since(start).Round(time.Millisecond))

	return &RetrieveOutput{
		Text:     res.Text,
		Tier:     res.Tier,
		Ordinals: res.Ordinals,
		Score:    res.Score,
	}, nil
}

// Delete removes the saved indexes of key.
func (s *CourseContextService) Delete(ctx context.Context, key domain.CorpusKey) error {
	if err := domain.ValidateCorpusKey(key); err != nil {
		return err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	return s.engine.DeleteCorpus(ctx, key)
}

// EnqueueRebuild queues an asynchronous rebuild of key. If one is already
// pending, that job is returned.
func (s *CourseContextService) EnqueueRebuild(ctx context.Context, key domain.CorpusKey) (*domain.RebuildJob, error) {
	if err := domain.ValidateCorpusKey(key); err != nil {
		return nil, err
	}
	if s.queue == nil {
		return nil, domain.NewDomainError(domain.ErrCodeUnavailable, "asynchronous rebuilds are not configured")
	}

	job := domain.NewRebuildJob(s.uuidGen.NewUUID(), key, time.Now().UTC())
	queued, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return nil, err
	}

	if s.waker != nil {
		s.waker.Wake()
	}
	return queued, nil
}

// GetRebuildJob returns a queued or finished rebuild job.
func (s *CourseContextService) GetRebuildJob(ctx context.Context, id string) (*domain.RebuildJob, error) {
	if s.queue == nil {
		return nil, domain.ErrRebuildJobNotFound
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrRebuildJobNotFound
	}
	return s.queue.GetByID(ctx, id)
}

// keyedMutex hands out one mutex per corpus key and forgets it once nobody
// holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[domain.CorpusKey]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key domain.CorpusKey) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[domain.CorpusKey]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
