package certificate

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"wipecert_enterprise/internal/keys"
	"wipecert_enterprise/internal/logging"
	"wipecert_enterprise/internal/wipe"
)

// Signer источник подписи; *keys.Manager удовлетворяет интерфейсу
type Signer interface {
	Sign(digest []byte) ([]byte, error)
	ExportPublic() (keys.PublicKey, error)
}

// Issuer выпускает сертификаты ключом, переданным вызывающим
type Issuer struct {
	signer       Signer
	logger       *logging.EnterpriseLogger
	now          func() time.Time
	operator     string
	organization string
}

// IssuerOption настройка эмитента
type IssuerOption func(*Issuer)

// WithOperator оператор, выполнивший затирание
func WithOperator(name string) IssuerOption {
	return func(i *Issuer) { i.operator = name }
}

// WithOrganization организация эмитента
func WithOrganization(name string) IssuerOption {
	return func(i *Issuer) { i.organization = name }
}

// WithLogger логгер эмитента
func WithLogger(l *logging.EnterpriseLogger) IssuerOption {
	return func(i *Issuer) { i.logger = l }
}

// WithClock источник времени подписи
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(signer Signer, opts ...IssuerOption) *Issuer {
	i := &Issuer{signer: signer, logger: logging.Nop(), now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Issue signs a completed result. Results of failed or cancelled jobs, and
// results whose final verification never ran, are rejected with
// ErrNotCertifiable.
func (i *Issuer) Issue(r wipe.Result) (*Certificate, error) {
	if r.FinalState != wipe.StateCompleted {
		return nil, fmt.Errorf("%w: final state is %s", ErrNotCertifiable, r.FinalState)
	}
	if r.Verification == nil {
		return nil, fmt.Errorf("%w: verification outcome is not available", ErrNotCertifiable)
	}
	if err := checkSafeIntegers(r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotCertifiable, err)
	}
	if i.signer == nil {
		return nil, &SigningError{Err: keys.ErrNoKey}
	}

	pub, err := i.signer.ExportPublic()
	if err != nil {
		return nil, &SigningError{Err: err}
	}

	digest, err := Digest(r)
	if err != nil {
		return nil, err
	}

	cert := &Certificate{
		FormatVersion:     FormatVersion,
		Serial:            uuid.NewString(),
		Result:            r,
		ResultDigest:      digest,
		IssuerFingerprint: pub.Fingerprint,
		SignedAt:          i.now().UTC(),
		Algorithm:         AlgorithmRSAPSS,
		Operator:          i.operator,
		Organization:      i.organization,
	}

	msg, err := cert.signedMessage()
	if err != nil {
		return nil, err
	}
	sig, err := i.signer.Sign(msg)
	if err != nil {
		return nil, &SigningError{Err: err}
	}
	cert.Signature = sig

	i.logger.Log("INFO", "Сертификат выпущен", "serial", cert.Serial, "job", r.JobID,
		"target", r.TargetID, "issuer", pub)
	return cert, nil
}
