package wipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Job одно задание затирания. Единственная изменяемая сущность; ей
// принадлежит цель на всё время выполнения.
type Job struct {
	id      string
	orch    *Orchestrator
	target  Target
	pattern Pattern
	passes  []Pass
	req     Request

	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}

	mu              sync.Mutex
	state           State
	bytesWritten    uint64
	currentPass     int
	passesCompleted int
	result          Result
	err             error
}

// Snapshot состояние задания на текущий момент
type Snapshot struct {
	State           State
	BytesWritten    uint64
	CurrentPass     int
	PassesCompleted int
}

func newJob(o *Orchestrator, req Request) *Job {
	passes, _ := req.Pattern.Passes()
	return &Job{
		id:      newJobID(),
		orch:    o,
		target:  req.Target,
		pattern: req.Pattern,
		passes:  passes,
		req:     req,
		done:    make(chan struct{}),
		state:   StateIdle,
	}
}

// ID идентификатор задания
func (j *Job) ID() string { return j.id }

// Target цель задания
func (j *Job) Target() Target { return j.target }

// State текущее состояние
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Snapshot returns bytes written and the current pass without waiting.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		State:           j.state,
		BytesWritten:    j.bytesWritten,
		CurrentPass:     j.currentPass,
		PassesCompleted: j.passesCompleted,
	}
}

// Cancel requests cooperative cancellation. The chunk in flight completes
// before the job transitions to cancelled.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
	if j.cancel != nil {
		j.cancel()
	}
}

// Done закрывается, когда задание достигло конечного состояния
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job is terminal and returns its result.
func (j *Job) Wait() Result {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Err returns the typed terminal error: nil for completed jobs, ErrCancelled
// for cancelled ones, *PersistentIOError or a wrapped cause for failed ones.
func (j *Job) Err() error {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) run(ctx context.Context, dev Device, release func()) {
	o := j.orch
	opts := o.opts
	t := j.target
	length := t.Size
	started := opts.Now()

	res := Result{
		JobID:           j.id,
		TargetID:        t.ID,
		TargetPath:      t.Path,
		MediaKind:       t.Kind,
		Model:           t.Model,
		Serial:          t.Serial,
		Pattern:         j.pattern.Kind,
		SecureEraseHint: j.pattern.SecureEraseHint,
		TotalPasses:     len(j.passes),
		TotalBytes:      length,
		ChunkSize:       opts.ChunkSize,
		StartedAt:       started,
	}

	progress := newProgressDispatcher(j.req.Progress)
	var runErr error

	defer func() {
		if cerr := dev.Close(); cerr != nil {
			o.logger.Log("WARN", "Ошибка закрытия устройства", "target", t.ID, "error", cerr.Error())
		}
		release()

		snap := j.Snapshot()
		res.BytesWritten = snap.BytesWritten
		res.CurrentPass = snap.CurrentPass
		res.PassesCompleted = snap.PassesCompleted
		res.EndedAt = opts.Now()
		if runErr != nil && res.ErrorDetail == "" {
			res.ErrorDetail = runErr.Error()
		}

		progress.publish(ProgressInfo{
			JobID:        j.id,
			TargetID:     t.ID,
			Phase:        PhaseDone,
			PassIndex:    snap.CurrentPass,
			TotalPasses:  res.TotalPasses,
			BytesWritten: snap.BytesWritten,
			SpeedMBps:    res.SpeedMBps(),
			State:        res.FinalState,
		})
		progress.close()

		j.mu.Lock()
		j.state = res.FinalState
		j.result = res
		j.err = runErr
		j.mu.Unlock()
		close(j.done)
		j.cancel()

		o.logger.Log("INFO", "Задание завершено", "job", j.id, "target", t.ID,
			"state", res.FinalState, "bytes", res.BytesWritten, "speed_mbps", res.SpeedMBps())
	}()

	gen, err := NewGenerator(j.pattern, length, opts.ChunkSize)
	if err != nil {
		res.FinalState = StateFailed
		runErr = err
		return
	}
	defer gen.Discard()

	o.logger.Log("INFO", "Начало затирания", "job", j.id, "target", t.ID, "kind", t.Kind,
		"pattern", j.pattern.Kind, "passes", len(j.passes), "size", length, "chunk", opts.ChunkSize)
	j.setState(StateWiping)

	writer := NewThrottledWriter(dev, opts.MaxBytesPerSecond, opts.ChunkSize)

	for {
		// Отмена проверяется только на границе чанков
		if ctx.Err() != nil {
			res.FinalState, runErr = StateCancelled, j.cancelCause(ctx)
			return
		}

		blk, ok := gen.Next()
		if !ok {
			break
		}

		if err := j.writeChunk(ctx, writer, blk); err != nil {
			if errors.Is(err, ErrCancelled) {
				res.FinalState, runErr = StateCancelled, j.cancelCause(ctx)
				return
			}
			res.FinalState, runErr = StateFailed, err
			o.logger.Log("ERROR", "Ошибка записи", "job", j.id, "target", t.ID, "error", err.Error())
			return
		}

		end := blk.Offset + uint64(len(blk.Data))
		j.mu.Lock()
		j.bytesWritten += uint64(len(blk.Data))
		j.currentPass = blk.PassIndex
		written := j.bytesWritten
		j.mu.Unlock()

		progress.publish(ProgressInfo{
			JobID:            j.id,
			TargetID:         t.ID,
			Phase:            PhaseWiping,
			PassIndex:        blk.PassIndex,
			TotalPasses:      len(j.passes),
			BytesInPass:      end,
			TotalBytesInPass: length,
			BytesWritten:     written,
			SpeedMBps:        speed(written, started, opts.Now()),
			State:            StateWiping,
		})

		if end < length {
			continue
		}

		// Проход завершён
		if err := dev.Sync(); err != nil {
			res.FinalState = StateFailed
			runErr = &PersistentIOError{PassIndex: blk.PassIndex, Offset: int64(length), LastGoodOffset: int64(length), Attempts: 1, Err: fmt.Errorf("sync: %w", err)}
			return
		}
		j.mu.Lock()
		j.passesCompleted++
		j.mu.Unlock()
		o.logger.Log("INFO", "Проход завершён", "job", j.id, "target", t.ID,
			"pass", blk.PassIndex+1, "total", len(j.passes))

		pass := j.passes[blk.PassIndex]
		if pass.VerifyAfter && blk.PassIndex < len(j.passes)-1 {
			outcome, err := j.sample(ctx, dev, gen.Expectation(blk.PassIndex))
			if err != nil {
				if errors.Is(err, ErrCancelled) {
					res.FinalState, runErr = StateCancelled, j.cancelCause(ctx)
					return
				}
				res.FinalState, runErr = StateFailed, err
				return
			}
			res.InterimVerification = append(res.InterimVerification, InterimCheck{AfterPass: blk.PassIndex, Outcome: outcome})
			if !outcome.Passed() {
				o.logger.Log("WARN", "Промежуточная проверка выявила расхождения", "job", j.id,
					"pass", blk.PassIndex+1, "mismatched", outcome.MismatchedBlocks)
			}
		}
	}

	if ctx.Err() != nil {
		res.FinalState, runErr = StateCancelled, j.cancelCause(ctx)
		return
	}

	j.setState(StateVerifying)
	progress.publish(ProgressInfo{
		JobID:            j.id,
		TargetID:         t.ID,
		Phase:            PhaseVerifying,
		PassIndex:        len(j.passes) - 1,
		TotalPasses:      len(j.passes),
		BytesInPass:      length,
		TotalBytesInPass: length,
		BytesWritten:     j.Snapshot().BytesWritten,
		State:            StateVerifying,
	})

	outcome, err := j.sample(ctx, dev, gen.Expectation(len(j.passes)-1))
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			res.FinalState, runErr = StateCancelled, j.cancelCause(ctx)
			return
		}
		res.FinalState, runErr = StateFailed, err
		return
	}
	res.Verification = &outcome
	if !outcome.Passed() {
		o.logger.Log("WARN", "Проверка выявила расхождения", "job", j.id, "target", t.ID,
			"sampled", outcome.SampledBlocks, "mismatched", outcome.MismatchedBlocks)
	}
	res.FinalState = StateCompleted
}

// writeChunk пишет блок, повторяя запись по тому же смещению при временных ошибках
func (j *Job) writeChunk(ctx context.Context, w *ThrottledWriter, blk Block) error {
	opts := j.orch.opts
	if err := w.Wait(ctx, len(blk.Data)); err != nil {
		// Ограничитель скорости прервал ожидание до начала записи
		return ErrCancelled
	}

	var lastErr error
	attempts := 0
	for attempts < opts.MaxAttempts {
		attempts++
		n, err := w.WriteAt(blk.Data, int64(blk.Offset))
		if err == nil && n == len(blk.Data) {
			return nil
		}
		if err == nil {
			err = io.ErrShortWrite
		}
		if !isTransient(err) {
			lastErr = err
			break
		}
		lastErr = &TransientIOError{Offset: int64(blk.Offset), Attempt: attempts, Err: err}
		j.orch.logger.Log("WARN", "Временная ошибка записи, повтор", "job", j.id,
			"offset", blk.Offset, "attempt", attempts, "error", err.Error())
		if attempts < opts.MaxAttempts && opts.RetryBackoff > 0 {
			time.Sleep(opts.RetryBackoff * time.Duration(attempts))
		}
	}
	return &PersistentIOError{
		PassIndex:      blk.PassIndex,
		Offset:         int64(blk.Offset),
		LastGoodOffset: int64(blk.Offset),
		Attempts:       attempts,
		Err:            lastErr,
	}
}

func (j *Job) sample(ctx context.Context, dev Device, exp Expectation) (VerificationOutcome, error) {
	s := Sampler{
		Ratio:     j.orch.opts.SampleRatio,
		MinBlocks: j.orch.opts.MinSampleBlocks,
		BlockSize: j.orch.opts.ChunkSize,
	}
	return s.Verify(ctx, dev, j.target.Size, exp)
}

func (j *Job) cancelCause(ctx context.Context) error {
	if !j.cancelled.Load() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: operation time limit reached", ErrCancelled)
	}
	return ErrCancelled
}

func speed(written uint64, since, now time.Time) float64 {
	secs := now.Sub(since).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(written) / (1024 * 1024) / secs
}
