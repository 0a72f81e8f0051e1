// Package queue implements the ordered job queue owned by the caller and
// borrowed by the executor as a live view.
package queue

import (
	"fmt"
	"sync"

	"github.com/CZERTAINLY/renderq/internal/model"
)

// Queue is an ordered list of jobs safe for concurrent use. Duplicate paths
// are allowed, every job is tracked independently.
type Queue struct {
	mx   sync.RWMutex
	jobs []*model.Job
}

func New(paths ...string) *Queue {
	q := &Queue{}
	for _, path := range paths {
		q.Add(path)
	}
	return q
}

// Add appends a new pending job for path.
func (q *Queue) Add(path string) *model.Job {
	job := model.NewJob(path)
	q.Push(job)
	return job
}

// Push appends an existing job.
func (q *Queue) Push(job *model.Job) {
	q.mx.Lock()
	defer q.mx.Unlock()
	q.jobs = append(q.jobs, job)
}

// Requeue appends a fresh pending job with the same path as job. This is
// how a failed job is retried, the engine itself never does it.
func (q *Queue) Requeue(job *model.Job) *model.Job {
	return q.Add(job.Path)
}

// Remove takes the job at index out of the queue. A job being rendered may
// be removed, the executor finishes it anyway.
func (q *Queue) Remove(index int) (*model.Job, error) {
	q.mx.Lock()
	defer q.mx.Unlock()
	if index < 0 || index >= len(q.jobs) {
		return nil, fmt.Errorf("%w: index %d, queue length %d", model.ErrNoJob, index, len(q.jobs))
	}
	job := q.jobs[index]
	q.jobs = append(q.jobs[:index:index], q.jobs[index+1:]...)
	return job, nil
}

func (q *Queue) Len() int {
	q.mx.RLock()
	defer q.mx.RUnlock()
	return len(q.jobs)
}

// At returns the job at index or nil if index is out of range.
func (q *Queue) At(index int) *model.Job {
	q.mx.RLock()
	defer q.mx.RUnlock()
	if index < 0 || index >= len(q.jobs) {
		return nil
	}
	return q.jobs[index]
}

// Index returns the current position of job or -1 if it is not queued.
func (q *Queue) Index(job *model.Job) int {
	q.mx.RLock()
	defer q.mx.RUnlock()
	for i, j := range q.jobs {
		if j == job {
			return i
		}
	}
	return -1
}

// Jobs returns a snapshot of the queue order.
func (q *Queue) Jobs() []*model.Job {
	q.mx.RLock()
	defer q.mx.RUnlock()
	return append([]*model.Job(nil), q.jobs...)
}

// Counts returns the number of jobs in each status.
func (q *Queue) Counts() map[model.Status]int {
	ret := make(map[model.Status]int, 4)
	for _, job := range q.Jobs() {
		ret[job.Status()]++
	}
	return ret
}
