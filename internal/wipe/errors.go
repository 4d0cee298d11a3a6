package wipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

var (
	// ErrCancelled операция отменена пользователем
	ErrCancelled = errors.New("wipe cancelled by user")
	// ErrTargetBusy на цель уже запущено задание
	ErrTargetBusy = errors.New("target already has an active wipe job")
	// ErrVerificationMismatch is matched by *MismatchError via errors.Is.
	ErrVerificationMismatch = errors.New("verification mismatch")
)

// ValidationError цель не прошла проверку безопасности; задание не стартует
type ValidationError struct {
	TargetID string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("target %s rejected: %s", e.TargetID, e.Reason)
}

// TransientIOError временная ошибка ввода-вывода, которую можно повторить
type TransientIOError struct {
	Offset  int64
	Attempt int
	Err     error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient write error at offset %d (attempt %d): %v", e.Offset, e.Attempt, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// PersistentIOError фатальная ошибка записи после исчерпания повторов
type PersistentIOError struct {
	PassIndex      int
	Offset         int64
	LastGoodOffset int64
	Attempts       int
	Err            error
}

func (e *PersistentIOError) Error() string {
	return fmt.Sprintf("write failed at offset %d in pass %d after %d attempts (last successful offset %d): %v",
		e.Offset, e.PassIndex, e.Attempts, e.LastGoodOffset, e.Err)
}

func (e *PersistentIOError) Unwrap() error { return e.Err }

// MismatchError carries a failed verification outcome. It never aborts a job.
type MismatchError struct {
	AfterPass int
	Outcome   VerificationOutcome
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("verification after pass %d: %d of %d sampled blocks mismatched (first at offset %d)",
		e.AfterPass, e.Outcome.MismatchedBlocks, e.Outcome.SampledBlocks, e.Outcome.FirstMismatchOffset)
}

func (e *MismatchError) Is(target error) bool { return target == ErrVerificationMismatch }

// isTransient классифицирует ошибку записи как временную
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransientIOError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.ErrShortWrite) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	return false
}
