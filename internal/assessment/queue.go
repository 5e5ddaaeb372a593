// Package assessment hands finished negotiation sessions off for scoring.
// The hand-off is strictly best-effort: a full queue or failing assessor
// must never affect session teardown.
package assessment

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/parleylabs/parley/internal/observability"
	"github.com/parleylabs/parley/internal/store"
)

// Job is one completed session submitted for assessment.
type Job struct {
	SessionID     string
	NegotiationID string
	CharacterName string
	TurnCount     int
	DurationMS    int64
	Turns         []store.TurnRecord
}

// Assessor scores a finished session. Implementations may call out to an
// external service.
type Assessor interface {
	Assess(ctx context.Context, job Job) error
}

// AssessorFunc adapts a function to the Assessor interface.
type AssessorFunc func(ctx context.Context, job Job) error

func (f AssessorFunc) Assess(ctx context.Context, job Job) error { return f(ctx, job) }

// Queue feeds jobs to a single background worker through a bounded channel.
type Queue struct {
	jobs     chan Job
	assessor Assessor
	metrics  *observability.Metrics

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

func NewQueue(size int, assessor Assessor, metrics *observability.Metrics) *Queue {
	if size <= 0 {
		size = 64
	}
	q := &Queue{
		jobs:     make(chan Job, size),
		assessor: assessor,
		metrics:  metrics,
		stop:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue submits a job without blocking. When the queue is full the job is
// dropped and logged; the caller proceeds regardless.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		q.count("enqueued")
		return true
	default:
		log.Printf("assessment: queue full, dropping job for session %s", job.SessionID)
		q.count("dropped")
		return false
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case job := <-q.jobs:
			q.process(job)
		case <-q.stop:
			// Drain what is already queued before exiting.
			for {
				select {
				case job := <-q.jobs:
					q.process(job)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := q.assessor.Assess(ctx, job); err != nil {
		log.Printf("assessment: job for session %s failed: %v", job.SessionID, err)
		q.count("failed")
		return
	}
	q.count("completed")
}

// Shutdown stops the worker after draining queued jobs.
func (q *Queue) Shutdown() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.wg.Wait()
}

func (q *Queue) count(outcome string) {
	if q.metrics != nil {
		q.metrics.AssessmentJobs.WithLabelValues(outcome).Inc()
	}
}

// LogAssessor is the development assessor: it records the hand-off and
// succeeds. Production points at the scoring service instead.
type LogAssessor struct{}

func (LogAssessor) Assess(ctx context.Context, job Job) error {
	log.Printf("assessment: session %s (negotiation %s, %d turns) ready for scoring",
		job.SessionID, job.NegotiationID, job.TurnCount)
	return nil
}
