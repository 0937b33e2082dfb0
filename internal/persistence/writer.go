package persistence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"livecollab/internal/metrics"
	"livecollab/internal/models"
	"livecollab/internal/utils"

	"github.com/cespare/xxhash/v2"
)

type writeTask struct {
	roomID string
	op     string
	fn     func(ctx context.Context) error
}

// WriterOptions sizes the write pipeline.
type WriterOptions struct {
	Workers int
	Queue   int
	Timeout time.Duration
}

// Writer runs fire-and-forget writes on sharded workers. All writes for a
// room hash to one shard and are applied in submit order. A full shard drops
// the write; nothing is retried.
type Writer struct {
	gw      Gateway
	log     *utils.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	shards []chan writeTask
	wg     sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
}

func NewWriter(gw Gateway, log *utils.Logger, opts WriterOptions) *Writer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue <= 0 {
		opts.Queue = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	w := &Writer{
		gw:      gw,
		log:     log,
		timeout: opts.Timeout,
		shards:  make([]chan writeTask, opts.Workers),
	}
	for i := range w.shards {
		ch := make(chan writeTask, opts.Queue)
		w.shards[i] = ch
		w.wg.Add(1)
		go w.worker(ch)
	}
	return w
}

func (w *Writer) shardFor(roomID string) chan writeTask {
	return w.shards[xxhash.Sum64String(roomID)%uint64(len(w.shards))]
}

// Submit queues fn on the room's shard without blocking. It returns false when
// the write was dropped because the shard is full or the writer is closed.
func (w *Writer) Submit(roomID, op string, fn func(ctx context.Context) error) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(roomID, op, ErrClosed)
		return false
	}
	select {
	case w.shardFor(roomID) <- writeTask{roomID: roomID, op: op, fn: fn}:
		return true
	default:
		w.drop(roomID, op, fmt.Errorf("shard queue full"))
		return false
	}
}

// ReadRoom reads the room on its shard, so every write already queued for the
// room is applied first. Unlike Submit it waits for queue space, bounded by ctx.
func (w *Writer) ReadRoom(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	type result struct {
		snap models.RoomSnapshot
		err  error
	}
	out := make(chan result, 1)
	task := writeTask{roomID: roomID, op: OpReadRoom, fn: func(context.Context) error {
		snap, err := w.gw.ReadRoom(ctx, roomID)
		out <- result{snap: snap, err: err}
		return nil
	}}
	if err := w.enqueue(ctx, task); err != nil {
		return models.RoomSnapshot{}, err
	}
	select {
	case r := <-out:
		return r.snap, r.err
	case <-ctx.Done():
		return models.RoomSnapshot{}, ctx.Err()
	}
}

func (w *Writer) enqueue(ctx context.Context, task writeTask) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.shardFor(task.roomID) <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) drop(roomID, op string, reason error) {
	w.dropped.Add(1)
	metrics.ObserveWrite(op, metrics.WriteDropped)
	w.log.Warn("persistence write dropped", "roomId", roomID, "op", op, "reason", reason)
}

func (w *Writer) worker(ch chan writeTask) {
	defer w.wg.Done()
	for task := range ch {
		w.execute(task)
	}
}

func (w *Writer) execute(task writeTask) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return task.fn(ctx)
	}()
	if err != nil {
		w.failed.Add(1)
		metrics.ObserveWrite(task.op, metrics.WriteFailed)
		w.log.Error("persistence write failed", "roomId", task.roomID, "op", task.op, "error", err)
		return
	}
	metrics.ObserveWrite(task.op, metrics.WriteOK)
}

// Dropped is the number of writes discarded without running.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Failed is the number of writes that ran and returned an error.
func (w *Writer) Failed() int64 { return w.failed.Load() }

// Close stops intake and waits for queued writes to finish or ctx to expire.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		for _, ch := range w.shards {
			close(ch)
		}
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

/*** Gateway writes ***/

func (w *Writer) WriteFileContent(roomID, fileID, content string) {
	w.Submit(roomID, OpWriteFileContent, func(ctx context.Context) error {
		return w.gw.WriteFileContent(ctx, roomID, fileID, content)
	})
}

func (w *Writer) WriteActiveFile(roomID string, fileID *string) {
	id := copyID(fileID)
	w.Submit(roomID, OpWriteActiveFile, func(ctx context.Context) error {
		return w.gw.WriteActiveFile(ctx, roomID, id)
	})
}

func (w *Writer) WriteLanguage(roomID, language string) {
	w.Submit(roomID, OpWriteLanguage, func(ctx context.Context) error {
		return w.gw.WriteLanguage(ctx, roomID, language)
	})
}

func (w *Writer) WriteFileLanguage(roomID, fileID, language string) {
	w.Submit(roomID, OpWriteFileLanguage, func(ctx context.Context) error {
		return w.gw.WriteFileLanguage(ctx, roomID, fileID, language)
	})
}

func (w *Writer) AppendFile(roomID string, node models.FileNode) {
	n := node.Clone()
	w.Submit(roomID, OpAppendFile, func(ctx context.Context) error {
		return w.gw.AppendFile(ctx, roomID, n)
	})
}

func (w *Writer) RemoveFile(roomID, fileID string) {
	w.Submit(roomID, OpRemoveFile, func(ctx context.Context) error {
		return w.gw.RemoveFile(ctx, roomID, fileID)
	})
}
