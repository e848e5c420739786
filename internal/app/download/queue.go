// Package download provides the serialized download queue.
package download

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Job is a queued remote media ref.
type Job struct {
	ID        string
	URL       string
	AudioOnly bool // Extract audio instead of keeping the video
	AddedAt   time.Time
}

// Result describes a finished download.
type Result struct {
	Path  string // Local file the URL resolved to
	Title string // Media title reported by the source
}

// Downloader is the download collaborator. progress receives percentages in
// [0, 100] and may be called from the downloader's own goroutines.
type Downloader interface {
	Download(ctx context.Context, job Job, progress func(percent int)) (Result, error)
}

// ErrNoDownloader fails every job of a queue created without a downloader.
var ErrNoDownloader = errors.New("no downloader configured")

type unavailable struct{}

func (unavailable) Download(context.Context, Job, func(int)) (Result, error) {
	return Result{}, ErrNoDownloader
}

// MessageType represents a worker message type.
type MessageType int

const (
	MessageStarted  MessageType = iota // Worker picked up the job
	MessageProgress                    // Percent changed
	MessageDone                        // Worker finished, Err set on failure
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case MessageStarted:
		return "started"
	case MessageProgress:
		return "progress"
	case MessageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Message is posted by a worker to the queue's channel.
type Message struct {
	Type    MessageType
	Job     Job
	Percent int
	Result  Result
	Err     error
}

// Queue runs at most one download at a time. It is owned by a single
// consumer goroutine: Enqueue and Finish must be called from the goroutine
// that drains Messages. The next job starts only when Finish is called
// after its predecessor's MessageDone.
type Queue struct {
	ctx        context.Context
	downloader Downloader
	pending    []Job
	active     *Job
	messages   chan Message
}

// NewQueue creates a queue whose workers stop posting once ctx is done. A
// nil downloader fails every job with ErrNoDownloader.
func NewQueue(ctx context.Context, downloader Downloader, buffer int) *Queue {
	if buffer <= 0 {
		buffer = 16
	}
	if downloader == nil {
		downloader = unavailable{}
	}
	return &Queue{
		ctx:        ctx,
		downloader: downloader,
		pending:    make([]Job, 0),
		messages:   make(chan Message, buffer),
	}
}

// Messages returns the channel workers post to.
func (q *Queue) Messages() <-chan Message {
	return q.messages
}

// Enqueue appends a URL and starts it when nothing is downloading.
func (q *Queue) Enqueue(url string, audioOnly bool) Job {
	job := Job{
		ID:        uuid.New().String(),
		URL:       url,
		AudioOnly: audioOnly,
		AddedAt:   time.Now(),
	}
	q.pending = append(q.pending, job)
	zlog.Debug().Msgf("download: enqueued: job_id=%s url=%s audio_only=%t pending=%d", job.ID, url, audioOnly, len(q.pending))

	if q.active == nil {
		q.startNext()
	}
	return job
}

// Finish marks the active job as handled and starts the next pending one.
func (q *Queue) Finish() {
	q.active = nil
	q.startNext()
}

// Active returns the job currently downloading.
func (q *Queue) Active() (Job, bool) {
	if q.active == nil {
		return Job{}, false
	}
	return *q.active, true
}

// Pending returns a copy of the jobs waiting to start.
func (q *Queue) Pending() []Job {
	out := make([]Job, len(q.pending))
	copy(out, q.pending)
	return out
}

func (q *Queue) startNext() {
	if len(q.pending) == 0 {
		return
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	q.active = &job

	go q.run(job)
}

// run executes one job on its own goroutine and reports back via messages.
func (q *Queue) run(job Job) {
	q.post(Message{Type: MessageStarted, Job: job})

	result, err := q.downloader.Download(q.ctx, job, func(percent int) {
		q.postProgress(Message{Type: MessageProgress, Job: job, Percent: clampPercent(percent)})
	})
	if err != nil {
		zlog.Warn().Err(err).Msgf("download: failed: job_id=%s url=%s", job.ID, job.URL)
	}

	q.post(Message{Type: MessageDone, Job: job, Result: result, Err: err})
}

func (q *Queue) post(msg Message) {
	select {
	case q.messages <- msg:
	case <-q.ctx.Done():
	}
}

// postProgress drops the update when the consumer is behind.
func (q *Queue) postProgress(msg Message) {
	select {
	case q.messages <- msg:
	default:
	}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
