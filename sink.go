package pqhybrid

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// SampleSink receives benchmark samples. Implementations must be safe for
// concurrent use.
type SampleSink interface {
	WriteSample(Sample) error
}

// Format is the encoding of a record file.
type Format string

const (
	// FormatJSONL writes one JSON object per line.
	FormatJSONL Format = "jsonl"
	// FormatCBOR writes a stream of CBOR data items.
	FormatCBOR Format = "cbor"
)

// ParseFormat parses a record format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSONL, "json":
		return FormatJSONL, nil
	case FormatCBOR:
		return FormatCBOR, nil
	}
	return "", fmt.Errorf("pqhybrid: unknown record format %q", s)
}

type recordEncoder interface {
	Encode(v any) error
}

// A RecordFile is an append-only file of structured records, one per sample
// or session. It implements SampleSink and AuditSink.
type RecordFile struct {
	mu     sync.Mutex
	f      *os.File
	enc    recordEncoder
	format Format
}

// OpenRecordFile opens path for appending, creating it if needed.
func OpenRecordFile(path string, format Format) (*RecordFile, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pqhybrid: open record file: %w", err)
	}
	return newRecordFile(f, format)
}

func newRecordFile(f *os.File, format Format) (*RecordFile, error) {
	rf := &RecordFile{f: f, format: format}
	switch format {
	case FormatJSONL, "":
		rf.enc = json.NewEncoder(f)
		rf.format = FormatJSONL
	case FormatCBOR:
		rf.enc = cbor.NewEncoder(f)
	default:
		f.Close()
		return nil, fmt.Errorf("pqhybrid: unknown record format %q", string(format))
	}
	return rf, nil
}

// Format returns the file's encoding.
func (rf *RecordFile) Format() Format { return rf.format }

func (rf *RecordFile) write(v any) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f == nil {
		return os.ErrClosed
	}
	return rf.enc.Encode(v)
}

// WriteSample appends one sample record.
func (rf *RecordFile) WriteSample(s Sample) error { return rf.write(s) }

// WriteAudit appends one audit record.
func (rf *RecordFile) WriteAudit(r AuditRecord) error { return rf.write(r) }

// WriteReport appends a whole report as a single record.
func (rf *RecordFile) WriteReport(r *Report) error { return rf.write(r) }

// Close syncs and closes the file.
func (rf *RecordFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f == nil {
		return nil
	}
	err := rf.f.Sync()
	if cerr := rf.f.Close(); err == nil {
		err = cerr
	}
	rf.f = nil
	return err
}

// ReadRecords decodes every record of type T from r.
func ReadRecords[T any](r io.Reader, format Format) ([]T, error) {
	var dec interface{ Decode(v any) error }
	switch format {
	case FormatJSONL, "":
		dec = json.NewDecoder(r)
	case FormatCBOR:
		dec = cbor.NewDecoder(r)
	default:
		return nil, fmt.Errorf("pqhybrid: unknown record format %q", string(format))
	}

	var out []T
	for {
		var v T
		err := dec.Decode(&v)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// WriteTable prints a report as an aligned console table. Times are in
// milliseconds.
func WriteTable(w io.Writer, report *Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALGORITHM\tOP\tN\tFAIL\tAVG ms\tMIN ms\tMAX ms\tSTDDEV ms\tP95 ms\tCV\tMEM\t")
	for _, k := range report.Keys() {
		s := report.Summaries[k]
		flag := ""
		if s.PossibleTimingLeak {
			flag = " !"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f%s\t%.0f\t\n",
			s.Algorithm, s.Operation, s.Count, s.Failures,
			ms(s.Mean), ms(s.Min), ms(s.Max), ms(s.StdDev), ms(s.P95),
			s.CV, flag, s.MeanMemoryDelta)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, adv := range report.Advisories {
		if _, err := fmt.Fprintf(w, "advisory: %v\n", adv); err != nil {
			return err
		}
	}
	return nil
}

// WriteAlgorithmTable prints the descriptors of reg with their bound
// providers.
func WriteAlgorithmTable(w io.Writer, reg *Registry, providers *Providers) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALGORITHM\tFAMILY\tBITS\tPQ\tHYBRID\tPK\tSK\tCT/SIG\tSS\tPROVIDER\t")
	for _, d := range reg.All() {
		prov := "-"
		if providers != nil {
			if info, err := providers.Info(d); err == nil {
				prov = info.String()
			}
		}
		ctsig := d.CiphertextLen
		if d.Family() == FamilySignature {
			ctsig = d.SignatureLen
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%t\t%d\t%d\t%s\t%s\t%s\t\n",
			d.Name(), d.Family(), d.SecurityBits, d.PostQuantum, d.HybridEligible,
			d.PublicKeyLen, d.SecretKeyLen, dash(ctsig), dash(d.SharedSecretLen), prov)
	}
	return tw.Flush()
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func dash(n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprint(n)
}
