package reporting

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecert_enterprise/internal/certificate"
	"wipecert_enterprise/internal/config"
	"wipecert_enterprise/internal/keys"
	"wipecert_enterprise/internal/wipe"
)

var (
	keyOnce sync.Once
	issuer  *keys.Manager
)

func testIssuer(t *testing.T) *keys.Manager {
	t.Helper()
	keyOnce.Do(func() {
		issuer = keys.NewManager()
		if _, err := issuer.Generate(keys.MinBits); err != nil {
			panic(err)
		}
	})
	return issuer
}

var start = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

func result(id string, state wipe.State, mismatched int) wipe.Result {
	r := wipe.Result{
		JobID:           id,
		TargetID:        "blk:" + id,
		TargetPath:      "/dev/" + id,
		MediaKind:       wipe.MediaSSD,
		Model:           "Samsung 870",
		Serial:          "S5Y1NX0R",
		Pattern:         wipe.PatternNistPurge,
		SecureEraseHint: true,
		TotalPasses:     1,
		PassesCompleted: 1,
		TotalBytes:      10 << 20,
		BytesWritten:    10 << 20,
		ChunkSize:       1 << 20,
		StartedAt:       start,
		EndedAt:         start.Add(2 * time.Second),
		FinalState:      state,
	}
	if state == wipe.StateCompleted {
		r.Verification = &wipe.VerificationOutcome{SampledBlocks: 10, MismatchedBlocks: mismatched, SampleRatio: 1, BlockSize: 1 << 20, FirstMismatchOffset: -1}
	} else {
		r.PassesCompleted = 0
		r.BytesWritten = 4 << 20
		r.ErrorDetail = "interrupted"
	}
	return r
}

func issue(t *testing.T) *certificate.Certificate {
	t.Helper()
	cert, err := certificate.NewIssuer(testIssuer(t), certificate.WithOperator("ivanov")).
		Issue(result("sdb", wipe.StateCompleted, 0))
	require.NoError(t, err)
	return cert
}

func TestCertificateFileRoundTrip(t *testing.T) {
	cert := issue(t)
	dir := t.TempDir()
	path := CertificatePath(filepath.Join(dir, "certs"), cert)
	assert.Equal(t, "wipecert_"+cert.Serial+".json", filepath.Base(path))

	require.NoError(t, SaveCertificate(cert, path))
	loaded, err := LoadCertificate(path)
	require.NoError(t, err)

	pub, err := testIssuer(t).ExportPublic()
	require.NoError(t, err)
	assert.Equal(t, certificate.Valid, certificate.Verify(loaded, pub.Key))

	pubPath := filepath.Join(dir, "issuer.pub.pem")
	require.NoError(t, SavePublicKey(pub, pubPath))
	loadedPub, err := LoadPublicKey(pubPath)
	require.NoError(t, err)
	assert.Equal(t, pub.Fingerprint, loadedPub.Fingerprint)
}

func TestParseCertificateRejectsInvalidDocuments(t *testing.T) {
	data, err := json.Marshal(issue(t))
	require.NoError(t, err)

	mutate := func(t *testing.T, fn func(doc map[string]any)) []byte {
		t.Helper()
		var doc map[string]any
		require.NoError(t, json.Unmarshal(data, &doc))
		fn(doc)
		out, err := json.Marshal(doc)
		require.NoError(t, err)
		return out
	}

	cases := map[string]func(doc map[string]any){
		"missing signature": func(doc map[string]any) { delete(doc, "signature") },
		"bad fingerprint":   func(doc map[string]any) { doc["issuer_public_key_fingerprint"] = "MD5:abc" },
		"bad digest":        func(doc map[string]any) { doc["result_digest"] = "XYZ" },
		"bad signed_at":     func(doc map[string]any) { doc["signed_at"] = "yesterday" },
		"missing job id": func(doc map[string]any) {
			delete(doc["result"].(map[string]any), "job_id")
		},
		"unknown media": func(doc map[string]any) {
			doc["result"].(map[string]any)["media_kind"] = "TAPE"
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCertificate(mutate(t, fn))
			assert.Error(t, err)
		})
	}

	_, err = ParseCertificate([]byte("{"))
	assert.Error(t, err)

	_, err = ParseCertificate(data)
	assert.NoError(t, err)
}

func TestGenerateReportSummary(t *testing.T) {
	cfg := config.Default()
	cfg.Wipe.MaxDuration = "1h"
	ops := []Operation{
		{Result: result("sda", wipe.StateCompleted, 0), Serial: "serial-1"},
		{Result: result("sdb", wipe.StateCompleted, 2)},
		{Result: result("sdc", wipe.StateCancelled, 0)},
		{Result: result("sdd", wipe.StateFailed, 0)},
	}

	r := GenerateReport(ops, cfg, "balanced", start, start.Add(time.Minute), 2)

	assert.True(t, strings.HasPrefix(r.RunID, "run_"))
	assert.Equal(t, Version, r.Version)
	assert.Equal(t, "1h0m0s", r.MaxDuration)
	assert.Equal(t, "1m0s", r.Duration)
	assert.NotContains(t, r.Config["keys"], "keystore_path")

	s := r.Summary
	assert.Equal(t, 4, s.TotalTargets)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.Partial)
	assert.Equal(t, 1, s.Cancelled)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Certified)
	assert.Equal(t, uint64(2*(10<<20)+2*(4<<20)), s.TotalBytes)
	assert.InDelta(t, 25.0, s.SuccessRate, 1e-9)

	require.Len(t, r.Operations, 4)
	assert.Equal(t, "serial-1", r.Operations[0].CertificateSerial)
	assert.Contains(t, r.Operations[1].Warning, "mismatch")
	assert.Equal(t, "interrupted", r.Operations[2].Error)
	require.NotNil(t, r.Operations[0].EndTime)
}

func TestSaveAndAggregateReports(t *testing.T) {
	cfg := config.Default()
	cfg.Reporting.LocalPath = filepath.Join(t.TempDir(), "reports")

	first := GenerateReport([]Operation{{Result: result("sda", wipe.StateCompleted, 0)}}, cfg, "", start, start, 0)
	path, err := SaveReport(first, cfg)
	require.NoError(t, err)
	assert.FileExists(t, path)

	loaded, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, loaded.RunID)

	second := *loaded
	second.Hostname = "other-host"
	second.Summary = SummaryReport{TotalTargets: 3, Completed: 1, Failed: 2, TotalBytes: 100}

	agg := AggregateReports([]Report{*loaded, second})
	assert.Equal(t, 2, agg.TotalRuns)
	assert.Equal(t, 2, agg.TotalMachines)
	assert.Equal(t, 4, agg.TotalTargets)
	assert.Equal(t, 2, agg.Summary.Completed)
	assert.Equal(t, 2, agg.Summary.Failed)
	assert.InDelta(t, 50.0, agg.SuccessRate, 1e-9)

	cfg.Reporting.Enabled = false
	path, err = SaveReport(first, cfg)
	require.NoError(t, err)
	assert.Empty(t, path)

	_, err = LoadReport(filepath.Join(t.TempDir(), "none.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRenderCertificateText(t *testing.T) {
	cert := issue(t)
	verdict := certificate.Verdict{Status: certificate.Tampered, Reason: "result digest mismatch"}

	text := RenderCertificateText(cert, &verdict)
	assert.Contains(t, text, cert.Serial)
	assert.Contains(t, text, cert.IssuerFingerprint)
	assert.Contains(t, text, "Оператор: ivanov")
	assert.Contains(t, text, "Метод: nist_purge")
	assert.Contains(t, text, "Размер: 10.0 MiB")
	assert.Contains(t, text, "Secure Erase")
	assert.Contains(t, text, "ПРОЙДЕНА (10/10")
	assert.Contains(t, text, "TAMPERED")
	assert.Contains(t, text, "result digest mismatch")

	assert.NotContains(t, RenderCertificateText(cert, nil), "Статус подписи")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 GiB", formatBytes(2<<30))
}
