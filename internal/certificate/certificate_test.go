package certificate

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecert_enterprise/internal/keys"
	"wipecert_enterprise/internal/wipe"
)

var (
	keyOnce  sync.Once
	issuerKM *keys.Manager
	otherKM  *keys.Manager
)

// testKeys генерирует ключи один раз на пакет
func testKeys(t *testing.T) (*keys.Manager, *keys.Manager) {
	t.Helper()
	keyOnce.Do(func() {
		issuerKM, otherKM = keys.NewManager(), keys.NewManager()
		if _, err := issuerKM.Generate(keys.MinBits); err != nil {
			panic(err)
		}
		if _, err := otherKM.Generate(keys.MinBits); err != nil {
			panic(err)
		}
	})
	return issuerKM, otherKM
}

func publicKey(t *testing.T, km *keys.Manager) keys.PublicKey {
	t.Helper()
	pub, err := km.ExportPublic()
	require.NoError(t, err)
	return pub
}

func completedResult() wipe.Result {
	start := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.FixedZone("MSK", 3*3600))
	return wipe.Result{
		JobID:           "wipe_6f1c",
		TargetID:        "wwn-0x5000c500a1b2c3d4",
		TargetPath:      "/dev/sdb",
		MediaKind:       wipe.MediaHDD,
		Model:           "ST2000DM008",
		Serial:          "ZFL1ABCD",
		Pattern:         wipe.PatternDod3Pass,
		TotalPasses:     3,
		PassesCompleted: 3,
		CurrentPass:     2,
		TotalBytes:      1 << 20,
		BytesWritten:    3 << 20,
		ChunkSize:       4096,
		StartedAt:       start,
		EndedAt:         start.Add(90 * time.Second),
		Verification: &wipe.VerificationOutcome{
			SampledBlocks:       16,
			SampleRatio:         0.0625,
			BlockSize:           4096,
			FirstMismatchOffset: -1,
			Digest:              strings.Repeat("ab", 32),
		},
		FinalState: wipe.StateCompleted,
	}
}

func issue(t *testing.T, opts ...IssuerOption) *Certificate {
	t.Helper()
	km, _ := testKeys(t)
	cert, err := NewIssuer(km, opts...).Issue(completedResult())
	require.NoError(t, err)
	return cert
}

func TestIssueAndVerify(t *testing.T) {
	km, _ := testKeys(t)
	pub := publicKey(t, km)
	signedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))

	cert := issue(t,
		WithOperator("ivanov"),
		WithOrganization("ACME"),
		WithClock(func() time.Time { return signedAt }),
	)

	assert.Equal(t, FormatVersion, cert.FormatVersion)
	assert.Equal(t, AlgorithmRSAPSS, cert.Algorithm)
	assert.Equal(t, pub.Fingerprint, cert.IssuerFingerprint)
	assert.Equal(t, time.UTC, cert.SignedAt.Location())
	assert.True(t, signedAt.Equal(cert.SignedAt))
	assert.NotEmpty(t, cert.Serial)
	assert.Equal(t, "ivanov", cert.Operator)

	digest, err := Digest(cert.Result)
	require.NoError(t, err)
	assert.Equal(t, digest, cert.ResultDigest)

	assert.Equal(t, Valid, Verify(cert, pub.Key))
	assert.NoError(t, VerifyDetailed(cert, pub.Key).Err())
}

func TestSerialsAreUnique(t *testing.T) {
	a, b := issue(t), issue(t)
	assert.NotEqual(t, a.Serial, b.Serial)
	assert.Equal(t, a.ResultDigest, b.ResultDigest)
}

func TestVerifyAfterJSONRoundTrip(t *testing.T) {
	km, _ := testKeys(t)
	cert := issue(t, WithOrganization("ACME"))

	data, err := json.Marshal(cert)
	require.NoError(t, err)
	var decoded Certificate
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, Valid, Verify(&decoded, publicKey(t, km).Key))
}

func TestWrongKeyIsSignatureInvalid(t *testing.T) {
	_, other := testKeys(t)
	cert := issue(t)

	v := VerifyDetailed(cert, publicKey(t, other).Key)
	assert.Equal(t, SignatureInvalid, v.Status)
	assert.Contains(t, v.Reason, "does not match issuer")
	assert.Error(t, v.Err())
	assert.True(t, strings.HasPrefix(v.Err().Error(), "SIGNATURE_INVALID"))
}

func TestTamperedResultIsDetected(t *testing.T) {
	km, _ := testKeys(t)
	pub := publicKey(t, km).Key
	cert := issue(t)

	mutations := []func(r *wipe.Result, n int){
		func(r *wipe.Result, n int) { r.BytesWritten += uint64(n) },
		func(r *wipe.Result, n int) { r.PassesCompleted += n },
		func(r *wipe.Result, n int) { r.TotalBytes -= uint64(n) },
		func(r *wipe.Result, n int) { r.EndedAt = r.EndedAt.Add(time.Duration(n) * time.Second) },
		func(r *wipe.Result, n int) { r.TargetID += strings.Repeat("x", n) },
		func(r *wipe.Result, n int) { r.Verification.MismatchedBlocks += n },
		func(r *wipe.Result, n int) { r.Verification.SampleRatio += float64(n) / 1000 },
		func(r *wipe.Result, _ int) { r.Pattern = wipe.PatternGutmann35 },
		func(r *wipe.Result, _ int) { r.MediaKind = wipe.MediaSSD },
		func(r *wipe.Result, _ int) { r.Verification = nil },
	}

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 60
	properties := gopter.NewProperties(params)

	properties.Property("any change to the certified result is TAMPERED", prop.ForAll(
		func(which int, n int) bool {
			tampered := *cert
			r := completedResult()
			v := *r.Verification
			r.Verification = &v
			mutations[which](&r, n)
			tampered.Result = r
			return Verify(&tampered, pub) == Tampered
		},
		gen.IntRange(0, len(mutations)-1),
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)

	// счётчики на границе точного представления в JCS
	issuer := NewIssuer(km)
	r := completedResult()
	r.TotalBytes = maxSafeInteger
	r.BytesWritten = maxSafeInteger
	big, err := issuer.Issue(r)
	require.NoError(t, err)
	assert.Equal(t, Valid, Verify(big, pub))

	for name, mutate := range map[string]func(r *wipe.Result){
		"bytes_written":         func(r *wipe.Result) { r.BytesWritten = maxSafeInteger + 1 },
		"bytes_written 2^53+2":  func(r *wipe.Result) { r.BytesWritten = 1<<53 + 2 },
		"total_bytes":           func(r *wipe.Result) { r.TotalBytes = 1 << 60 },
		"first_mismatch_offset": func(r *wipe.Result) { r.Verification.FirstMismatchOffset = -(1 << 54) },
	} {
		t.Run(name, func(t *testing.T) {
			tampered := *big
			res := big.Result
			v := *res.Verification
			res.Verification = &v
			mutate(&res)
			tampered.Result = res
			assert.Equal(t, Tampered, Verify(&tampered, pub))
		})
	}
}

func TestUnsafeCountersAreNotCertifiable(t *testing.T) {
	km, _ := testKeys(t)
	issuer := NewIssuer(km)

	for name, mutate := range map[string]func(r *wipe.Result){
		"bytes_written":   func(r *wipe.Result) { r.BytesWritten = 1 << 53 },
		"total_bytes":     func(r *wipe.Result) { r.TotalBytes = 1<<53 + 1 },
		"sampled_blocks":  func(r *wipe.Result) { r.Verification.SampledBlocks = 1 << 62 },
		"interim offset": func(r *wipe.Result) {
			r.InterimVerification = []wipe.InterimCheck{{AfterPass: 2, Outcome: wipe.VerificationOutcome{FirstMismatchOffset: 1 << 55}}}
		},
	} {
		t.Run(name, func(t *testing.T) {
			r := completedResult()
			v := *r.Verification
			r.Verification = &v
			mutate(&r)
			_, err := issuer.Issue(r)
			assert.ErrorIs(t, err, ErrNotCertifiable)
			assert.ErrorIs(t, err, ErrUnsafeInteger)

			_, err = Canonical(r)
			assert.ErrorIs(t, err, ErrUnsafeInteger)
		})
	}
}

func TestTamperedEnvelopeIsSignatureInvalid(t *testing.T) {
	km, _ := testKeys(t)
	pub := publicKey(t, km).Key

	cases := map[string]func(c *Certificate){
		"serial":       func(c *Certificate) { c.Serial = "00000000-0000-0000-0000-000000000000" },
		"signed_at":    func(c *Certificate) { c.SignedAt = c.SignedAt.Add(time.Second) },
		"operator":     func(c *Certificate) { c.Operator = "mallory" },
		"organization": func(c *Certificate) { c.Organization = "" },
		"signature":    func(c *Certificate) { c.Signature[0] ^= 0xFF },
		"algorithm":    func(c *Certificate) { c.Algorithm = "RSA-PKCS1v15-SHA256" },
		"format major": func(c *Certificate) { c.FormatVersion = "2.0.0" },
		"format junk":  func(c *Certificate) { c.FormatVersion = "one" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cert := issue(t, WithOperator("ivanov"), WithOrganization("ACME"))
			mutate(cert)
			assert.Equal(t, SignatureInvalid, Verify(cert, pub))
		})
	}
}

func TestCompatibleFormatVersion(t *testing.T) {
	assert.NoError(t, checkFormat("1.0.0"))
	assert.NoError(t, checkFormat("1.4.2"))
	assert.Error(t, checkFormat("0.9.0"))
	assert.Error(t, checkFormat("2.0.0"))
}

func TestNotCertifiable(t *testing.T) {
	km, _ := testKeys(t)
	issuer := NewIssuer(km)

	for _, state := range []wipe.State{wipe.StateFailed, wipe.StateCancelled, wipe.StateWiping} {
		r := completedResult()
		r.FinalState = state
		_, err := issuer.Issue(r)
		assert.ErrorIs(t, err, ErrNotCertifiable, state)
	}

	r := completedResult()
	r.Verification = nil
	_, err := issuer.Issue(r)
	assert.ErrorIs(t, err, ErrNotCertifiable)
}

type failingSigner struct {
	pub     keys.PublicKey
	pubErr  error
	signErr error
}

func (f failingSigner) Sign([]byte) ([]byte, error)            { return nil, f.signErr }
func (f failingSigner) ExportPublic() (keys.PublicKey, error) { return f.pub, f.pubErr }

func TestSigningError(t *testing.T) {
	km, _ := testKeys(t)
	boom := errors.New("hsm offline")

	cases := map[string]Signer{
		"no key":      keys.NewManager(),
		"export fail": failingSigner{pubErr: boom},
		"sign fail":   failingSigner{pub: publicKey(t, km), signErr: boom},
	}
	for name, signer := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewIssuer(signer).Issue(completedResult())
			var serr *SigningError
			require.ErrorAs(t, err, &serr)
			assert.NotErrorIs(t, err, ErrNotCertifiable)
		})
	}

	_, err := NewIssuer(nil).Issue(completedResult())
	assert.ErrorIs(t, err, keys.ErrNoKey)
}

func TestCanonicalIsStable(t *testing.T) {
	r := completedResult()
	a, err := Canonical(r)
	require.NoError(t, err)

	b, err := Canonical(r)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(string(a), `{"bytes_written":`))
	assert.NotContains(t, string(a), "\n")

	// после разбора канонической формы дайджест не меняется
	var decoded wipe.Result
	require.NoError(t, json.Unmarshal(a, &decoded))
	c, err := Canonical(decoded)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestVerifyWithoutKey(t *testing.T) {
	cert := issue(t)
	assert.Equal(t, SignatureInvalid, Verify(cert, nil))
	assert.Equal(t, SignatureInvalid, Verify(nil, publicKey(t, issuerKM).Key))
	assert.Equal(t, "TAMPERED", Tampered.String())
}
