// Package backfill walks chat history backward in batches, buffers fetched
// messages in memory, and commits them through the merger so live traffic
// is never starved by a long walk.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/tgsd/internal/bus"
	"github.com/matheus3301/tgsd/internal/counter"
	"github.com/matheus3301/tgsd/internal/merger"
	"github.com/matheus3301/tgsd/internal/store"
	"github.com/matheus3301/tgsd/internal/transport"
	"go.uber.org/zap"
)

// ErrJobActive is returned when a backfill is requested for a chat that
// already has a running job.
var ErrJobActive = errors.New("backfill job already active for chat")

// Progress is the payload of job.progress events.
type Progress struct {
	ChatID   int64
	JobID    string
	Buffered int
	Cursor   int64 // oldest message id fetched so far (not yet committed)
}

// Result is the payload of job.done and job.failed events.
type Result struct {
	ChatID  int64
	JobID   string
	Indexed int
	Err     string
}

// Options tunes the coordinator.
type Options struct {
	BatchSize     int           // messages per history fetch
	MaxBuffer     int           // flush threshold; whole-job buffering below this
	Floor         int64         // global oldest message id to walk to, 0 = chat start
	ProgressEvery time.Duration // minimum interval between progress events
}

// Coordinator drives backfill jobs, one walker goroutine per chat.
type Coordinator struct {
	db       *store.DB
	merger   *merger.Merger
	client   transport.Client
	bus      *bus.Bus
	counters counter.Store
	logger   *zap.Logger
	opts     Options

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	active map[int64]context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator. counters may be nil.
func New(db *store.DB, m *merger.Merger, client transport.Client, b *bus.Bus, counters counter.Store, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxBuffer <= 0 {
		opts.MaxBuffer = 10000
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 5 * time.Second
	}
	return &Coordinator{
		db:       db,
		merger:   m,
		client:   client,
		bus:      b,
		counters: counters,
		logger:   logger,
		opts:     opts,
		active:   make(map[int64]context.CancelFunc),
	}
}

// Start sets the base context walkers derive from.
func (c *Coordinator) Start(ctx context.Context) {
	c.baseCtx, c.cancel = context.WithCancel(ctx)
}

// Stop cancels all walkers and waits for them to finish. Cursors stay at
// the last committed point, so jobs resume on next start.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// StartJob begins a backfill for a chat. minID bounds the walk from below;
// maxID starts the walk below it instead of at the newest message. When an
// unfinished persisted job exists it is picked up from its saved cursor
// under its original bounds, the given ones are not applied; resumed
// reports that so the caller can tell the operator. Returns ErrJobActive
// while a walker is running.
func (c *Coordinator) StartJob(chatID, minID, maxID int64) (jobID string, resumed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, running := c.active[chatID]; running {
		return "", false, fmt.Errorf("%w: %d", ErrJobActive, chatID)
	}

	job, err := c.db.GetJob(chatID)
	if err != nil {
		return "", false, err
	}
	fresh := job == nil || job.Status == store.JobComplete || job.Status == store.JobFailed
	if fresh {
		job = &store.Job{
			ChatID:  chatID,
			JobID:   uuid.NewString(),
			FloorID: minID,
			Status:  store.JobPending,
		}
		if maxID > 0 {
			// The cursor is an exclusive upper bound for the next fetch.
			job.Cursor = maxID + 1
		}
		if err := c.db.PutJob(job); err != nil {
			return "", false, err
		}
		// Resumed jobs were already counted when they began.
		if c.counters != nil {
			_ = c.counters.Incr(counter.BackfillsStarted, 1)
		}
	}

	c.launch(job)
	return job.JobID, !fresh, nil
}

// Resume relaunches every unfinished persisted job. Called at daemon start.
func (c *Coordinator) Resume() error {
	jobs, err := c.db.ListJobs()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range jobs {
		job := jobs[i]
		if job.Status != store.JobPending && job.Status != store.JobRunning {
			continue
		}
		if _, running := c.active[job.ChatID]; running {
			continue
		}
		c.launch(&job)
	}
	return nil
}

// Cancel stops the walker for a chat at the next batch boundary. The job
// stays resumable from the last committed cursor.
func (c *Coordinator) Cancel(chatID int64) {
	c.mu.Lock()
	cancel, ok := c.active[chatID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// launch starts a walker goroutine. Caller holds c.mu.
func (c *Coordinator) launch(job *store.Job) {
	ctx := c.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.active[job.ChatID] = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.active, job.ChatID)
			c.mu.Unlock()
			cancel()
		}()
		c.run(ctx, job)
	}()
}

func (c *Coordinator) run(ctx context.Context, job *store.Job) {
	log := c.logger.With(zap.Int64("chat_id", job.ChatID), zap.String("job_id", job.JobID))
	if err := c.db.SetJobStatus(job.ChatID, store.JobRunning, ""); err != nil {
		log.Error("failed to mark job running", zap.Error(err))
		return
	}
	log.Info("backfill started", zap.Int64("cursor", job.Cursor))

	floor := job.FloorID
	if floor < c.opts.Floor {
		floor = c.opts.Floor
	}

	var (
		buffer       []store.Record
		indexed      int
		beforeID     = job.Cursor
		lastProgress time.Time
	)

	for {
		// Cancellation is checked at batch boundaries only.
		select {
		case <-ctx.Done():
			// Discard the uncommitted buffer; the cursor still points at
			// the last committed batch, so the walk resumes cleanly.
			_ = c.db.SetJobStatus(job.ChatID, store.JobPending, "")
			log.Info("backfill paused", zap.Int64("cursor", beforeID), zap.Int("discarded", len(buffer)))
			return
		default:
		}

		msgs, err := c.client.FetchHistory(ctx, job.ChatID, beforeID, c.opts.BatchSize)
		if fw, ok := transport.AsFloodWait(err); ok {
			// Sleep exactly the duration the transport demands, then retry
			// the same batch.
			log.Info("flood wait", zap.Duration("wait", fw.Wait))
			select {
			case <-time.After(fw.Wait):
				continue
			case <-ctx.Done():
				_ = c.db.SetJobStatus(job.ChatID, store.JobPending, "")
				return
			}
		}
		if err != nil {
			c.fail(job, log, err)
			return
		}

		done := len(msgs) == 0
		for _, m := range msgs {
			if floor > 0 && m.MessageID < floor {
				done = true
				continue
			}
			buffer = append(buffer, store.Record{
				ChatID:    m.ChatID,
				MessageID: m.MessageID,
				SenderID:  m.SenderID,
				Timestamp: m.Timestamp,
				Text:      m.Text,
				Filename:  m.Filename,
				HasFile:   m.HasFile,
			})
			if beforeID == 0 || m.MessageID < beforeID {
				beforeID = m.MessageID
			}
		}

		if time.Since(lastProgress) >= c.opts.ProgressEvery {
			lastProgress = time.Now()
			c.publish(bus.KindJobProgress, Progress{
				ChatID: job.ChatID, JobID: job.JobID, Buffered: indexed + len(buffer), Cursor: beforeID,
			})
		}

		// Buffer overflow protection: commit mid-walk and advance the
		// cursor so a crash re-fetches only the bounded tail.
		if !done && len(buffer) >= c.opts.MaxBuffer {
			if err := c.commit(job, log, buffer, beforeID); err != nil {
				c.fail(job, log, err)
				return
			}
			indexed += len(buffer)
			buffer = nil
		}

		if done {
			if err := c.commit(job, log, buffer, beforeID); err != nil {
				c.fail(job, log, err)
				return
			}
			indexed += len(buffer)
			if err := c.db.SetJobStatus(job.ChatID, store.JobComplete, ""); err != nil {
				log.Error("failed to mark job complete", zap.Error(err))
			}
			log.Info("backfill complete", zap.Int("indexed", indexed))
			c.publish(bus.KindJobDone, Result{ChatID: job.ChatID, JobID: job.JobID, Indexed: indexed})
			return
		}
	}
}

// commit writes the buffer through the merger and advances the persisted
// cursor. The cursor moves only after a successful commit.
func (c *Coordinator) commit(job *store.Job, log *zap.Logger, buffer []store.Record, oldest int64) error {
	if len(buffer) == 0 {
		return nil
	}
	applied, err := c.merger.CommitBatch(job.ChatID, buffer)
	if err != nil {
		return err
	}
	if err := c.db.AdvanceCursor(job.ChatID, oldest); err != nil {
		return err
	}
	log.Info("cursor advanced", zap.Int64("cursor", oldest), zap.Int("applied", applied))
	return nil
}

// fail discards the buffer, marks the job failed and reports it without
// touching other chats' jobs.
func (c *Coordinator) fail(job *store.Job, log *zap.Logger, err error) {
	msg := err.Error()
	if errors.Is(err, transport.ErrChatUnavailable) {
		msg = "chat not found"
	}
	if errors.Is(err, transport.ErrHistoryUnsupported) {
		msg = "transport does not support history fetch"
	}
	if e := c.db.SetJobStatus(job.ChatID, store.JobFailed, msg); e != nil {
		log.Error("failed to mark job failed", zap.Error(e))
	}
	log.Warn("backfill failed", zap.Error(err))
	c.publish(bus.KindJobFailed, Result{ChatID: job.ChatID, JobID: job.JobID, Err: msg})
}

func (c *Coordinator) publish(kind string, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
