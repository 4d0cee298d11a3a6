package wipe

import (
	"io"
	"time"
)

// MediaKind тип носителя, как его сообщает перечисление устройств
type MediaKind string

const (
	MediaHDD     MediaKind = "HDD"
	MediaSSD     MediaKind = "SSD"
	MediaFile    MediaKind = "FILE"
	MediaUnknown MediaKind = "UNKNOWN"
)

// ParseMediaKind нормализует строковое представление типа носителя
func ParseMediaKind(s string) MediaKind {
	switch MediaKind(s) {
	case MediaHDD, MediaSSD, MediaFile:
		return MediaKind(s)
	case "hdd":
		return MediaHDD
	case "ssd", "nvme", "flash":
		return MediaSSD
	case "file":
		return MediaFile
	default:
		return MediaUnknown
	}
}

// Target описывает цель затирания. Неизменяем на время жизни задания.
type Target struct {
	ID        string    `json:"id" validate:"required"`
	Path      string    `json:"path" validate:"required"`
	Size      uint64    `json:"size" validate:"gt=0"`
	Kind      MediaKind `json:"kind" validate:"required,oneof=HDD SSD FILE UNKNOWN"`
	Writable  bool      `json:"writable"`
	Removable bool      `json:"removable"`
	IsSystem  bool      `json:"is_system"`
	Model     string    `json:"model,omitempty"`
	Serial    string    `json:"serial,omitempty"`
}

// Device is the destructive I/O surface a job writes to and reads back from.
type Device interface {
	io.WriterAt
	io.ReaderAt
	Sync() error
	Close() error
}

// Opener opens the device behind a target for read/write.
type Opener func(t Target) (Device, error)

// State состояние задания затирания
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateWiping     State = "wiping"
	StateVerifying  State = "verifying"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Phase фаза, о которой сообщает событие прогресса
type Phase string

const (
	PhaseWiping    Phase = "wiping"
	PhaseVerifying Phase = "verifying"
	PhaseDone      Phase = "done"
)

// ProgressInfo информация о прогрессе затирания
type ProgressInfo struct {
	JobID            string
	TargetID         string
	Phase            Phase
	PassIndex        int
	TotalPasses      int
	BytesInPass      uint64
	TotalBytesInPass uint64
	BytesWritten     uint64
	SpeedMBps        float64
	State            State
}

// Percentage возвращает прогресс текущего прохода в процентах
func (p ProgressInfo) Percentage() float64 {
	if p.TotalBytesInPass == 0 {
		return 0
	}
	return float64(p.BytesInPass) / float64(p.TotalBytesInPass) * 100
}

// ProgressFunc receives progress snapshots on the dispatcher goroutine.
// Implementations must treat the snapshot as read-only.
type ProgressFunc func(ProgressInfo)

// VerificationOutcome результат выборочной проверки
type VerificationOutcome struct {
	SampledBlocks       int     `json:"sampled_blocks"`
	MismatchedBlocks    int     `json:"mismatched_blocks"`
	SampleRatio         float64 `json:"sample_ratio"`
	BlockSize           int     `json:"block_size"`
	FirstMismatchOffset int64   `json:"first_mismatch_offset"`
	Digest              string  `json:"digest,omitempty"`
}

// Passed is true iff no sampled block mismatched.
func (v VerificationOutcome) Passed() bool {
	return v.MismatchedBlocks == 0
}

// InterimCheck проверка, выполненная между проходами (DoD 7-pass)
type InterimCheck struct {
	AfterPass int                 `json:"after_pass"`
	Outcome   VerificationOutcome `json:"outcome"`
}

// Result неизменяемый снимок завершённого задания
type Result struct {
	JobID               string               `json:"job_id"`
	TargetID            string               `json:"target_id"`
	TargetPath          string               `json:"target_path"`
	MediaKind           MediaKind            `json:"media_kind"`
	Model               string               `json:"model,omitempty"`
	Serial              string               `json:"serial,omitempty"`
	Pattern             PatternKind          `json:"pattern"`
	SecureEraseHint     bool                 `json:"secure_erase_hint"`
	TotalPasses         int                  `json:"total_passes"`
	PassesCompleted     int                  `json:"passes_completed"`
	CurrentPass         int                  `json:"current_pass"`
	TotalBytes          uint64               `json:"total_bytes"`
	BytesWritten        uint64               `json:"bytes_written"`
	ChunkSize           int                  `json:"chunk_size"`
	StartedAt           time.Time            `json:"started_at"`
	EndedAt             time.Time            `json:"ended_at"`
	Verification        *VerificationOutcome `json:"verification,omitempty"`
	InterimVerification []InterimCheck       `json:"interim_verification,omitempty"`
	FinalState          State                `json:"final_state"`
	ErrorDetail         string               `json:"error_detail,omitempty"`
}

// Duration длительность операции
func (r Result) Duration() time.Duration {
	if r.EndedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// SpeedMBps средняя скорость записи
func (r Result) SpeedMBps() float64 {
	secs := r.Duration().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(r.BytesWritten) / (1024 * 1024) / secs
}

// VerificationErr returns ErrVerificationMismatch when a completed job's
// final or interim verification found mismatching blocks.
func (r Result) VerificationErr() error {
	if r.Verification != nil && !r.Verification.Passed() {
		return &MismatchError{AfterPass: r.TotalPasses - 1, Outcome: *r.Verification}
	}
	for _, c := range r.InterimVerification {
		if !c.Outcome.Passed() {
			return &MismatchError{AfterPass: c.AfterPass, Outcome: c.Outcome}
		}
	}
	return nil
}
