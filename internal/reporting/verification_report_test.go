package reporting

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wipecert_enterprise/internal/certificate"
)

func verificationFixture(t *testing.T) *VerificationReport {
	t.Helper()
	cert := issue(t)
	r := NewVerificationReport("ivanov", "аудит", start)

	r.Add("a.json", cert, &certificate.Verdict{Status: certificate.Valid}, nil)
	r.Add("b.json", cert, &certificate.Verdict{Status: certificate.Tampered, Reason: "result digest mismatch"}, nil)
	r.Add("c.json", cert, &certificate.Verdict{Status: certificate.SignatureInvalid, Reason: "bad signature"}, nil)
	r.Add("d.json", nil, nil, errors.New("нет ключа"))
	return r
}

func TestVerificationReportAdd(t *testing.T) {
	r := verificationFixture(t)

	assert.True(t, strings.HasPrefix(r.Metadata.RunID, "verify_"))
	assert.Equal(t, VerificationSummary{Total: 4, Valid: 1, Tampered: 1, SignatureInvalid: 1, Errors: 1}, r.Summary)
	assert.False(t, r.AllValid())

	require.Len(t, r.Entries, 4)
	assert.Equal(t, "VALID", r.Entries[0].Status)
	assert.Equal(t, "blk:sdb", r.Entries[0].Target)
	assert.Equal(t, "nist_purge", r.Entries[0].Pattern)
	assert.Equal(t, "TAMPERED", r.Entries[1].Status)
	assert.Equal(t, "SIGNATURE_INVALID", r.Entries[2].Status)
	assert.Equal(t, StatusError, r.Entries[3].Status)
	assert.Equal(t, "нет ключа", r.Entries[3].Reason)
	assert.Empty(t, r.Entries[3].Serial)

	r.Add("e.json", nil, nil, nil)
	assert.Equal(t, 2, r.Summary.Errors)
}

func TestVerificationReportAllValid(t *testing.T) {
	r := NewVerificationReport("", "", start)
	assert.False(t, r.AllValid())

	r.Add("a.json", issue(t), &certificate.Verdict{Status: certificate.Valid}, nil)
	assert.True(t, r.AllValid())
}

func TestSaveVerificationReport(t *testing.T) {
	r := verificationFixture(t)
	dir := t.TempDir()

	path, err := SaveVerificationReport(r, "JSON", filepath.Join(dir, "verify.json"))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"signature_invalid": 1`)
	assert.Contains(t, string(data), r.Metadata.RunID)

	path, err = SaveVerificationReport(r, "csv", filepath.Join(dir, "verify.csv"))
	require.NoError(t, err)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	cr := csv.NewReader(f)
	cr.Comment = '#'
	rows, err := cr.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "status", rows[0][5])
	assert.Equal(t, "ERROR", rows[4][5])

	_, err = SaveVerificationReport(r, "xml", filepath.Join(dir, "verify.xml"))
	assert.Error(t, err)
}
