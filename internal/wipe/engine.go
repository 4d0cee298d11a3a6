package wipe

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"wipecert_enterprise/internal/logging"
)

const (
	// DefaultChunkSize размер чанка записи по умолчанию
	DefaultChunkSize = 4 * 1024
	// MinChunkSize один сектор
	MinChunkSize = 512
	// MaxChunkSize верхняя граница для пропускной способности
	MaxChunkSize = 16 * 1024 * 1024
	// DefaultMaxAttempts попыток на один чанк при временных ошибках
	DefaultMaxAttempts = 3
	// DefaultRetryBackoff базовая пауза между попытками
	DefaultRetryBackoff = 50 * time.Millisecond
)

// Options настройки оркестратора, общие для всех заданий
type Options struct {
	ChunkSize         int
	MaxAttempts       int
	RetryBackoff      time.Duration
	SampleRatio       float64
	MinSampleBlocks   int
	AllowUnknownMedia bool
	MaxBytesPerSecond int64
	Opener            Opener
	Logger            *logging.EnterpriseLogger
	Now               func() time.Time
}

// Request one wipe job: the target, the pattern and its control surfaces.
type Request struct {
	Target  Target
	Pattern Pattern
	// AllowUnknownMedia overrides the UNKNOWN media gate for this job only.
	AllowUnknownMedia bool
	Progress          ProgressFunc
}

// Orchestrator drives wipe jobs and enforces one active job per target.
type Orchestrator struct {
	opts     Options
	registry *Registry
	logger   *logging.EnterpriseLogger
	validate *validator.Validate
}

// NewOrchestrator creates a new orchestrator, filling in defaults
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkSize < MinChunkSize {
		opts.ChunkSize = MinChunkSize
	}
	if opts.ChunkSize > MaxChunkSize {
		opts.ChunkSize = MaxChunkSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	if opts.SampleRatio <= 0 {
		opts.SampleRatio = DefaultSampleRatio
	}
	if opts.MinSampleBlocks <= 0 {
		opts.MinSampleBlocks = DefaultMinBlocks
	}
	if opts.Opener == nil {
		opts.Opener = OpenFileDevice
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Orchestrator{
		opts:     opts,
		registry: NewRegistry(),
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Registry exposes the active-job registry (read-only use).
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// ChunkSize эффективный размер чанка
func (o *Orchestrator) ChunkSize() int {
	return o.opts.ChunkSize
}

// Validate is the safety gate. A rejection is final, never retryable.
func (o *Orchestrator) Validate(req Request) error {
	t := req.Target
	if err := o.validate.Struct(t); err != nil {
		return &ValidationError{TargetID: t.ID, Reason: fmt.Sprintf("malformed target descriptor: %v", err)}
	}
	if !t.Writable {
		return &ValidationError{TargetID: t.ID, Reason: "target is not writable"}
	}
	if t.IsSystem {
		return &ValidationError{TargetID: t.ID, Reason: "target is a protected system/boot volume"}
	}
	if t.Kind == MediaUnknown && !(req.AllowUnknownMedia || o.opts.AllowUnknownMedia) {
		return &ValidationError{TargetID: t.ID, Reason: "media kind UNKNOWN requires explicit override"}
	}
	if _, err := ParsePattern(string(req.Pattern.Kind)); err != nil {
		return &ValidationError{TargetID: t.ID, Reason: err.Error()}
	}
	return nil
}

// Start validates the request, reserves the target and launches the job on a
// dedicated worker goroutine. Validation and reservation errors are returned
// synchronously; the job never reaches wiping in that case.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Job, error) {
	job := newJob(o, req)
	job.setState(StateValidating)

	if err := o.Validate(req); err != nil {
		job.setState(StateFailed)
		o.logger.Log("ERROR", "Цель отклонена проверкой", "target", req.Target.ID, "error", err.Error())
		return nil, err
	}

	release, err := o.registry.Acquire(req.Target.ID, job.id)
	if err != nil {
		o.logger.Log("WARN", "Цель уже занята", "target", req.Target.ID)
		return nil, fmt.Errorf("%s: %w", req.Target.ID, err)
	}

	dev, err := o.opts.Opener(req.Target)
	if err != nil {
		release()
		return nil, fmt.Errorf("ошибка открытия устройства %s: %w", req.Target.Path, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	job.cancel = cancel
	go job.run(runCtx, dev, release)
	return job, nil
}

// Run starts the job and blocks until it reaches a terminal state.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	job, err := o.Start(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res := job.Wait()
	return res, job.Err()
}

// fileDevice wraps *os.File to satisfy Device.
type fileDevice struct {
	*os.File
}

// OpenFileDevice opens the target path for positional read/write.
func OpenFileDevice(t Target) (Device, error) {
	f, err := os.OpenFile(t.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return fileDevice{File: f}, nil
}

func newJobID() string {
	return "wipe_" + uuid.NewString()
}
