// Package certificate выпускает и проверяет подписанные сертификаты затирания.
//
// Результат задания сериализуется канонически (RFC 8785), хешируется SHA-256;
// подписывается конверт с дайджестом результата, серийным номером, отпечатком
// ключа эмитента и временем подписи.
package certificate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"

	"wipecert_enterprise/internal/wipe"
)

const (
	// FormatVersion версия формата документа сертификата
	FormatVersion = "1.0.0"
	// AlgorithmRSAPSS единственный поддерживаемый алгоритм подписи
	AlgorithmRSAPSS = "RSA-PSS-SHA256"

	supportedFormats = "^1.0.0"
)

var (
	// ErrNotCertifiable результат не может быть сертифицирован
	ErrNotCertifiable = errors.New("result is not certifiable")

	formatConstraint = mustConstraint(supportedFormats)
)

// SigningError ключ эмитента недоступен или повреждён. Не влияет на
// сам результат затирания.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("certificate signing failed: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// Certificate подписанный сертификат затирания
type Certificate struct {
	FormatVersion     string      `json:"format_version"`
	Serial            string      `json:"serial"`
	Result            wipe.Result `json:"result"`
	ResultDigest      string      `json:"result_digest"`
	IssuerFingerprint string      `json:"issuer_public_key_fingerprint"`
	SignedAt          time.Time   `json:"signed_at"`
	Algorithm         string      `json:"algorithm"`
	Signature         []byte      `json:"signature"`
	Operator          string      `json:"operator,omitempty"`
	Organization      string      `json:"organization,omitempty"`
}

// envelope подписываемые поля; результат входит через дайджест
type envelope struct {
	FormatVersion     string `json:"format_version"`
	Serial            string `json:"serial"`
	IssuerFingerprint string `json:"issuer_fingerprint"`
	SignedAt          string `json:"signed_at"`
	ResultDigest      string `json:"result_digest"`
	Algorithm         string `json:"algorithm"`
	Operator          string `json:"operator"`
	Organization      string `json:"organization"`
}

// maxSafeInteger наибольшее целое, которое JCS (IEEE-754 double) передаёт без потерь
const maxSafeInteger = 1<<53 - 1

// ErrUnsafeInteger счётчик результата не представим в канонической форме точно
var ErrUnsafeInteger = errors.New("result counter exceeds 2^53-1")

// checkSafeIntegers rejects results whose 64-bit counters would be rounded by
// the number encoding of RFC 8785, so two different results never share a digest.
func checkSafeIntegers(r wipe.Result) error {
	check := func(name string, v int64) error {
		if v > maxSafeInteger || v < -maxSafeInteger {
			return fmt.Errorf("%w: %s=%d", ErrUnsafeInteger, name, v)
		}
		return nil
	}
	checkU := func(name string, v uint64) error {
		if v > maxSafeInteger {
			return fmt.Errorf("%w: %s=%d", ErrUnsafeInteger, name, v)
		}
		return nil
	}
	checkOutcome := func(prefix string, v wipe.VerificationOutcome) error {
		for _, f := range []struct {
			name string
			v    int64
		}{
			{"sampled_blocks", int64(v.SampledBlocks)},
			{"mismatched_blocks", int64(v.MismatchedBlocks)},
			{"block_size", int64(v.BlockSize)},
			{"first_mismatch_offset", v.FirstMismatchOffset},
		} {
			if err := check(prefix+f.name, f.v); err != nil {
				return err
			}
		}
		return nil
	}

	if err := checkU("total_bytes", r.TotalBytes); err != nil {
		return err
	}
	if err := checkU("bytes_written", r.BytesWritten); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"total_passes", r.TotalPasses},
		{"passes_completed", r.PassesCompleted},
		{"current_pass", r.CurrentPass},
		{"chunk_size", r.ChunkSize},
	} {
		if err := check(f.name, int64(f.v)); err != nil {
			return err
		}
	}
	if r.Verification != nil {
		if err := checkOutcome("verification.", *r.Verification); err != nil {
			return err
		}
	}
	for _, c := range r.InterimVerification {
		if err := check("interim.after_pass", int64(c.AfterPass)); err != nil {
			return err
		}
		if err := checkOutcome("interim.", c.Outcome); err != nil {
			return err
		}
	}
	return nil
}

// Canonical возвращает каноническую сериализацию результата (RFC 8785)
func Canonical(r wipe.Result) ([]byte, error) {
	if err := checkSafeIntegers(r); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize result: %w", err)
	}
	return out, nil
}

// Digest SHA-256 от канонической формы результата, hex
func Digest(r wipe.Result) (string, error) {
	c, err := Canonical(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(c)
	return hex.EncodeToString(sum[:]), nil
}

// signedMessage SHA-256 от канонического конверта
func (c *Certificate) signedMessage() ([]byte, error) {
	env := envelope{
		FormatVersion:     c.FormatVersion,
		Serial:            c.Serial,
		IssuerFingerprint: c.IssuerFingerprint,
		SignedAt:          c.SignedAt.UTC().Format(time.RFC3339Nano),
		ResultDigest:      c.ResultDigest,
		Algorithm:         c.Algorithm,
		Operator:          c.Operator,
		Organization:      c.Organization,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize envelope: %w", err)
	}
	sum := sha256.Sum256(canon)
	return sum[:], nil
}

// checkFormat проверяет совместимость версии документа
func checkFormat(v string) error {
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid format version %q: %w", v, err)
	}
	if !formatConstraint.Check(ver) {
		return fmt.Errorf("unsupported format version %s (supported %s)", v, supportedFormats)
	}
	return nil
}

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}
