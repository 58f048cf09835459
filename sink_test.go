package pqhybrid

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSONL, "json": FormatJSONL, "JSONL": FormatJSONL, "cbor": FormatCBOR} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestRecordFileAppend(t *testing.T) {
	for _, format := range []Format{FormatJSONL, FormatCBOR} {
		t.Run(string(format), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "samples."+string(format))

			rf, err := OpenRecordFile(path, format)
			require.NoError(t, err)
			assert.Equal(t, format, rf.Format())
			require.NoError(t, rf.WriteSample(Sample{Algorithm: "X25519", Operation: OpAgree, Iteration: 0, Duration: 1500, OK: true}))
			require.NoError(t, rf.WriteSample(Sample{Algorithm: "X25519", Operation: OpAgree, Iteration: 1, Err: "boom"}))
			require.NoError(t, rf.Close())
			require.NoError(t, rf.Close(), "second close is a no-op")
			assert.Error(t, rf.WriteSample(Sample{}), "write after close")

			// Reopening appends rather than truncating.
			rf, err = OpenRecordFile(path, format)
			require.NoError(t, err)
			require.NoError(t, rf.WriteSample(Sample{Algorithm: "ML-KEM-768", Operation: OpKeyGen, Iteration: 0, MemoryDelta: -32, OK: true}))
			require.NoError(t, rf.Close())

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()
			got, err := ReadRecords[Sample](f, format)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, time.Duration(1500), got[0].Duration)
			assert.True(t, got[0].OK)
			assert.Equal(t, "boom", got[1].Err)
			assert.Equal(t, "ML-KEM-768", got[2].Algorithm)
			assert.Equal(t, int64(-32), got[2].MemoryDelta)
		})
	}
}

func TestRecordFileAudit(t *testing.T) {
	for _, format := range []Format{FormatJSONL, FormatCBOR} {
		t.Run(string(format), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "audit")
			rf, err := OpenRecordFile(path, format)
			require.NoError(t, err)

			rec := AuditRecord{
				SessionID:   "abc",
				Role:        "responder",
				Suite:       "X25519+ML-KEM-768",
				KDF:         "hkdf-sha256",
				State:       "failed",
				Stage:       string(StageVerification),
				Error:       ErrConfirmationFailed.Error(),
				Started:     time.Unix(1700000000, 0).UTC(),
				DurationUS:  42,
				InitiatorFP: Fingerprint([]byte("pub")),
			}
			require.NoError(t, rf.WriteAudit(rec))
			require.NoError(t, rf.Close())

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()
			got, err := ReadRecords[AuditRecord](f, format)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, rec.SessionID, got[0].SessionID)
			assert.Equal(t, rec.Stage, got[0].Stage)
			assert.Equal(t, rec.Error, got[0].Error)
			assert.Equal(t, rec.InitiatorFP, got[0].InitiatorFP)
			assert.Equal(t, rec.Started.Unix(), got[0].Started.Unix())
			assert.Empty(t, got[0].TranscriptFP)
		})
	}
}

func TestOpenRecordFileErrors(t *testing.T) {
	_, err := OpenRecordFile(filepath.Join(t.TempDir(), "x"), Format("xml"))
	assert.Error(t, err)

	_, err = OpenRecordFile(filepath.Join(t.TempDir(), "missing", "dir", "x"), FormatJSONL)
	assert.Error(t, err)

	_, err = ReadRecords[Sample](strings.NewReader(""), Format("xml"))
	assert.Error(t, err)

	_, err = ReadRecords[Sample](strings.NewReader("{not json"), FormatJSONL)
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	assert.Empty(t, Fingerprint(nil))
	fp := Fingerprint([]byte("public key"))
	assert.NotEmpty(t, fp)
	assert.Equal(t, fp, Fingerprint([]byte("public key")))
	assert.NotEqual(t, fp, Fingerprint([]byte("public kez")))
}

func TestWriteTable(t *testing.T) {
	r := NewReport()
	r.Summaries[ReportKey("ML-KEM-768", OpKeyGen)] = &Summary{
		Algorithm: "ML-KEM-768", Operation: OpKeyGen, Count: 10,
		Mean: 2 * time.Millisecond, Min: time.Millisecond, Max: 3 * time.Millisecond,
		CV: 0.4, PossibleTimingLeak: true,
	}
	r.Summaries[ReportKey("X25519", OpAgree)] = &Summary{
		Algorithm: "X25519", Operation: OpAgree, Count: 10, Mean: 50 * time.Microsecond,
	}
	r.Advisories = []*TimingAdvisory{{Algorithm: "ML-KEM-768", Op: OpKeyGen, CV: 0.4, Threshold: 0.25}}

	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, r))
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "ALGORITHM"))
	assert.Contains(t, lines[1], "ML-KEM-768")
	assert.Contains(t, lines[1], "2.000")
	assert.Contains(t, lines[1], "0.400 !")
	assert.Contains(t, lines[2], "0.050")
	assert.Contains(t, lines[3], "advisory: pqhybrid: possible timing leak in ML-KEM-768 keygen")
}

func TestWriteAlgorithmTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAlgorithmTable(&buf, NewDefaultRegistry(), NewCIRCLProviders()))
	out := buf.String()

	assert.Contains(t, out, "x/crypto/curve25519@"+XCryptoVersion)
	assert.Contains(t, out, "circl")
	assert.Equal(t, NewDefaultRegistry().Len()+1, strings.Count(out, "\n"))

	buf.Reset()
	require.NoError(t, WriteAlgorithmTable(&buf, NewDefaultRegistry(), nil))
	assert.NotContains(t, buf.String(), "circl")
}
