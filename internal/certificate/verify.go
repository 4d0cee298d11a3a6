package certificate

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"wipecert_enterprise/internal/keys"
)

// Status итог проверки сертификата
type Status int

const (
	Valid Status = iota
	Tampered
	SignatureInvalid
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "VALID"
	case Tampered:
		return "TAMPERED"
	case SignatureInvalid:
		return "SIGNATURE_INVALID"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Verdict статус и причина
type Verdict struct {
	Status Status
	Reason string
}

// Verify проверяет сертификат публичным ключом эмитента
func Verify(cert *Certificate, pub *rsa.PublicKey) Status {
	return VerifyDetailed(cert, pub).Status
}

// VerifyDetailed recomputes the result digest and checks the signature.
// A digest that no longer matches the result is Tampered; a matching digest
// with a signature that does not verify under pub is SignatureInvalid.
func VerifyDetailed(cert *Certificate, pub *rsa.PublicKey) Verdict {
	if cert == nil {
		return Verdict{Status: SignatureInvalid, Reason: "no certificate"}
	}
	if pub == nil {
		return Verdict{Status: SignatureInvalid, Reason: "no issuer public key"}
	}

	digest, err := Digest(cert.Result)
	if err != nil {
		return Verdict{Status: Tampered, Reason: err.Error()}
	}
	if digest != cert.ResultDigest {
		return Verdict{Status: Tampered, Reason: "result digest mismatch"}
	}

	if err := checkFormat(cert.FormatVersion); err != nil {
		return Verdict{Status: SignatureInvalid, Reason: err.Error()}
	}
	if cert.Algorithm != AlgorithmRSAPSS {
		return Verdict{Status: SignatureInvalid, Reason: fmt.Sprintf("unsupported algorithm %q", cert.Algorithm)}
	}

	msg, err := cert.signedMessage()
	if err != nil {
		return Verdict{Status: SignatureInvalid, Reason: err.Error()}
	}
	if err := keys.VerifyPSS(pub, msg, cert.Signature); err != nil {
		reason := "signature does not verify"
		if fp, ferr := keys.Fingerprint(pub); ferr == nil && fp != cert.IssuerFingerprint {
			reason = fmt.Sprintf("public key %s does not match issuer %s", fp, cert.IssuerFingerprint)
		}
		return Verdict{Status: SignatureInvalid, Reason: reason}
	}
	return Verdict{Status: Valid}
}

// Err ошибка для статуса, отличного от Valid
func (v Verdict) Err() error {
	if v.Status == Valid {
		return nil
	}
	return errors.New(v.Status.String() + ": " + v.Reason)
}
