package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecert_enterprise/internal/certificate"
	"wipecert_enterprise/internal/keys"
	"wipecert_enterprise/internal/wipe"
)

var (
	keyOnce sync.Once
	issuer  *keys.Manager
)

func testIssuer(t *testing.T) (*keys.Manager, keys.PublicKey) {
	t.Helper()
	keyOnce.Do(func() {
		issuer = keys.NewManager()
		if _, err := issuer.Generate(keys.MinBits); err != nil {
			panic(err)
		}
	})
	pub, err := issuer.ExportPublic()
	require.NoError(t, err)
	return issuer, pub
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(jobID, target string, ended time.Time, state wipe.State) wipe.Result {
	return wipe.Result{
		JobID:           jobID,
		TargetID:        target,
		TargetPath:      "/dev/" + target,
		MediaKind:       wipe.MediaHDD,
		Pattern:         wipe.PatternNistClear,
		TotalPasses:     1,
		PassesCompleted: 1,
		TotalBytes:      4096,
		BytesWritten:    4096,
		ChunkSize:       4096,
		StartedAt:       ended.Add(-time.Second),
		EndedAt:         ended,
		Verification:    &wipe.VerificationOutcome{SampledBlocks: 1, SampleRatio: 1, BlockSize: 4096, FirstMismatchOffset: -1},
		FinalState:      state,
	}
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, pub := testIssuer(t)

	_, err := s.PublicKey(ctx, pub.Fingerprint)
	assert.ErrorIs(t, err, ErrUnknownIssuer)

	require.NoError(t, s.RecordKey(ctx, pub))
	require.NoError(t, s.RecordKey(ctx, pub))

	got, err := s.PublicKey(ctx, pub.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, pub.Fingerprint, got.Fingerprint)
	assert.True(t, pub.Key.Equal(got.Key))

	forged := pub
	forged.Fingerprint = "SHA256:deadbeef"
	assert.ErrorIs(t, s.RecordKey(ctx, forged), ErrKeyFingerprint)
}

func TestResults(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordResult(ctx, result("wipe_1", "sda", base, wipe.StateCompleted)))
	require.NoError(t, s.RecordResult(ctx, result("wipe_2", "sda", base.Add(time.Hour), wipe.StateCancelled)))
	require.NoError(t, s.RecordResult(ctx, result("wipe_3", "sdb", base, wipe.StateFailed)))

	err := s.RecordResult(ctx, result("wipe_1", "sda", base, wipe.StateCompleted))
	assert.ErrorIs(t, err, ErrDuplicate)

	r, err := s.Result(ctx, "wipe_2")
	require.NoError(t, err)
	assert.Equal(t, wipe.StateCancelled, r.FinalState)
	assert.True(t, r.EndedAt.Equal(base.Add(time.Hour)))

	_, err = s.Result(ctx, "wipe_404")
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := s.Results(ctx, "sda")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "wipe_2", history[0].JobID)
	assert.Equal(t, "wipe_1", history[1].JobID)

	none, err := s.Results(ctx, "sdz")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCertificates(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	km, pub := testIssuer(t)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	clock := base
	iss := certificate.NewIssuer(km, certificate.WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))

	c1, err := iss.Issue(result("wipe_1", "sda", base, wipe.StateCompleted))
	require.NoError(t, err)

	// ключ эмитента ещё не записан
	assert.ErrorIs(t, s.RecordCertificate(ctx, c1), ErrUnknownIssuer)

	require.NoError(t, s.RecordKey(ctx, pub))
	require.NoError(t, s.RecordCertificate(ctx, c1))
	assert.ErrorIs(t, s.RecordCertificate(ctx, c1), ErrDuplicate)

	c2, err := iss.Issue(result("wipe_2", "sda", base.Add(time.Hour), wipe.StateCompleted))
	require.NoError(t, err)
	require.NoError(t, s.RecordCertificate(ctx, c2))
	c3, err := iss.Issue(result("wipe_3", "sdb", base, wipe.StateCompleted))
	require.NoError(t, err)
	require.NoError(t, s.RecordCertificate(ctx, c3))

	list, err := s.ListCertificates(ctx, "sda")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, c2.Serial, list[0].Serial)
	assert.Equal(t, c1.Serial, list[1].Serial)

	all, err := s.ListCertificates(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	stored, err := s.Certificate(ctx, c3.Serial)
	require.NoError(t, err)
	verdict, err := s.VerifyCertificate(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, certificate.Valid, verdict.Status)

	stored.Result.BytesWritten++
	verdict, err = s.VerifyCertificate(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, certificate.Tampered, verdict.Status)

	_, err = s.Certificate(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrderingWithSubSecondGap(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	km, pub := testIssuer(t)
	require.NoError(t, s.RecordKey(ctx, pub))

	older := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	newer := older.Add(500 * time.Millisecond)

	// более новая запись вставлена первой: порядок задаёт время, а не rowid
	require.NoError(t, s.RecordResult(ctx, result("wipe_new", "sda", newer, wipe.StateCompleted)))
	require.NoError(t, s.RecordResult(ctx, result("wipe_old", "sda", older, wipe.StateCompleted)))

	history, err := s.Results(ctx, "sda")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "wipe_new", history[0].JobID)
	assert.Equal(t, "wipe_old", history[1].JobID)

	at := func(ts time.Time) *certificate.Issuer {
		return certificate.NewIssuer(km, certificate.WithClock(func() time.Time { return ts }))
	}
	cNew, err := at(newer).Issue(result("wipe_new", "sda", newer, wipe.StateCompleted))
	require.NoError(t, err)
	cOld, err := at(older).Issue(result("wipe_old", "sda", older, wipe.StateCompleted))
	require.NoError(t, err)
	require.NoError(t, s.RecordCertificate(ctx, cNew))
	require.NoError(t, s.RecordCertificate(ctx, cOld))

	list, err := s.ListCertificates(ctx, "sda")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, cNew.Serial, list[0].Serial)
	assert.Equal(t, cOld.Serial, list[1].Serial)
}

func TestConstraintClassification(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.RecordResult(ctx, result("wipe_1", "sda", time.Now(), wipe.StateCompleted)))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, target_id, pattern, final_state, bytes_written, current_pass, ended_at, document)
		 VALUES ('wipe_1', 'sda', 'zero_fill', 'completed', 0, 0, 0, '{}')`)
	require.Error(t, err)
	assert.True(t, isConstraint(err))
	assert.False(t, isForeignKey(err))

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO certificates (serial, job_id, target_id, fingerprint, signed_at, document)
		 VALUES ('s1', 'wipe_1', 'sda', 'SHA256:00', 0, '{}')`)
	require.Error(t, err)
	assert.True(t, isConstraint(err))
	assert.True(t, isForeignKey(err))

	assert.False(t, isConstraint(errors.New("UNIQUE constraint failed: jobs.job_id")))
	assert.False(t, isConstraint(nil))
}

func TestReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.RecordResult(ctx, result("wipe_1", "sda", time.Now(), wipe.StateCompleted)))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Result(ctx, "wipe_1")
	assert.NoError(t, err)
}
