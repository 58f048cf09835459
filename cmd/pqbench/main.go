// Command pqbench lists, benchmarks and exercises the post-quantum and hybrid
// primitives of pqhybrid.
//
// Usage:
//
//	pqbench list
//	pqbench bench [-alg ML-KEM-768,X25519] [-op keygen,encaps] [-n 100] [-warmup 10]
//	              [-out samples.jsonl] [-format jsonl|cbor] [-cv 0.25] [-parallel 4]
//	pqbench handshake [-suite X25519+ML-KEM-768] [-n 10] [-kdf hkdf-sha256]
//	                  [-sign ML-DSA-65] [-audit audit.jsonl]
//	pqbench version
//
// Defaults are read from a .env file and PQBENCH_* environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-i2p/pqhybrid"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.commit=abc1234"
var commit = "unknown"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	cfg, err := LoadConfig(".env")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	switch args[0] {
	case "list":
		return cmdList(stdout, stderr)
	case "bench":
		return cmdBench(ctx, cfg, args[1:], stdout, stderr)
	case "handshake":
		return cmdHandshake(ctx, cfg, args[1:], stdout, stderr)
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "pqbench %s (commit %s)\n", pqhybrid.Version, commit)
		return 0
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return 0
	}
	fmt.Fprintf(stderr, "Error: unknown command %q\n", args[0])
	usage(stderr)
	return 2
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: pqbench <list|bench|handshake|version> [flags]")
}

func cmdList(stdout, stderr io.Writer) int {
	reg := pqhybrid.NewDefaultRegistry()
	if err := pqhybrid.WriteAlgorithmTable(stdout, reg, pqhybrid.NewCIRCLProviders()); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newFlagSet(name string, cfg *Config, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("pqbench "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&cfg.Iterations, "n", cfg.Iterations, "measured iterations")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-call provider timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text, json")
	return fs
}

func setup(cfg *Config) (*pqhybrid.Registry, *pqhybrid.Adapter, *slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	logger := cfg.Logger()
	reg, err := pqhybrid.NewDefaultRegistry().Filter(cfg.Algorithms)
	if err != nil {
		return nil, nil, nil, err
	}
	adapter := pqhybrid.NewAdapter(reg, pqhybrid.NewCIRCLProviders(),
		pqhybrid.WithTimeout(cfg.Timeout),
		pqhybrid.WithLogger(logger),
	)
	return reg, adapter, logger, nil
}

func cmdBench(ctx context.Context, cfg Config, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("bench", &cfg, stderr)
	algs := fs.String("alg", "", "comma-separated algorithms (default: all)")
	ops := fs.String("op", "", "comma-separated operations (default: all supported)")
	fs.IntVar(&cfg.Warmup, "warmup", cfg.Warmup, "discarded warmup iterations")
	fs.StringVar(&cfg.Output, "out", cfg.Output, "append samples to this file")
	fs.StringVar(&cfg.Format, "format", cfg.Format, "sample file format: jsonl, cbor")
	fs.Float64Var(&cfg.CVThreshold, "cv", cfg.CVThreshold, "timing-leak advisory threshold")
	fs.IntVar(&cfg.Parallelism, "parallel", cfg.Parallelism, "descriptors benchmarked at once (0: all); 1 whenever a memory probe is set")
	fs.StringVar(&cfg.Probe, "probe", cfg.Probe, "memory probe: heap, rss, none")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *algs != "" {
		cfg.Algorithms = splitList(*algs)
	}
	if *ops != "" {
		cfg.Operations = splitList(*ops)
	}

	reg, adapter, logger, err := setup(&cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	jobs, err := buildJobs(reg, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	probe, err := pqhybrid.ParseMemoryProbe(cfg.Probe)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	opts := []pqhybrid.HarnessOption{
		pqhybrid.WithCVThreshold(cfg.CVThreshold),
		pqhybrid.WithMemoryProbe(probe),
		pqhybrid.WithParallelism(cfg.Parallelism),
		pqhybrid.WithHarnessLogger(logger),
	}
	if cfg.Output != "" {
		format, err := pqhybrid.ParseFormat(cfg.Format)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		rf, err := pqhybrid.OpenRecordFile(cfg.Output, format)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer rf.Close()
		opts = append(opts, pqhybrid.WithSampleSink(rf))
	}

	logger.Info("benchmark starting", "jobs", len(jobs), "iterations", cfg.Iterations, "warmup", cfg.Warmup)
	report, err := pqhybrid.NewHarness(adapter, opts...).RunAll(ctx, jobs)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := pqhybrid.WriteTable(stdout, report); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// buildJobs creates one job per descriptor. With an explicit algorithm list,
// an algorithm that supports none of the requested operations is an error;
// otherwise unsupported operations are skipped.
func buildJobs(reg *pqhybrid.Registry, cfg Config) ([]pqhybrid.Job, error) {
	var ops []pqhybrid.Operation
	for _, s := range cfg.Operations {
		op, err := pqhybrid.ParseOperation(s)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	var jobs []pqhybrid.Job
	for _, desc := range reg.All() {
		job := pqhybrid.Job{Descriptor: desc, Iterations: cfg.Iterations, Warmup: cfg.Warmup}
		for _, op := range ops {
			if desc.Supports(op) {
				job.Operations = append(job.Operations, op)
			}
		}
		if len(ops) > 0 && len(job.Operations) == 0 {
			if len(cfg.Algorithms) > 0 {
				return nil, fmt.Errorf("%w: %s does not support %v", pqhybrid.ErrUnsupportedOperation, desc.Name(), ops)
			}
			continue
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return nil, errors.New("nothing to benchmark")
	}
	return jobs, nil
}

func cmdHandshake(ctx context.Context, cfg Config, args []string, stdout, stderr io.Writer) int {
	cfg.Iterations = 10
	fs := newFlagSet("handshake", &cfg, stderr)
	suiteName := fs.String("suite", pqhybrid.DefaultSuites()[0].Name(), "hybrid suite, classical+kem")
	kdfName := fs.String("kdf", string(pqhybrid.KDFHKDFSHA256), "combiner kdf: hkdf-sha256, hkdf-sha512, blake3, shake256")
	signAlg := fs.String("sign", "", "sign the handshake with this signature algorithm")
	auditPath := fs.String("audit", "", "append audit records to this file")
	format := fs.String("format", cfg.Format, "audit file format: jsonl, cbor")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg.Algorithms = nil

	suite, err := pqhybrid.ParseSuite(*suiteName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	kdf, err := pqhybrid.ParseKDF(*kdfName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, adapter, logger, err := setup(&cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var audit pqhybrid.AuditSink
	if *auditPath != "" {
		f, err := pqhybrid.ParseFormat(*format)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		rf, err := pqhybrid.OpenRecordFile(*auditPath, f)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer rf.Close()
		audit = rf
	}

	h := handshaker{adapter: adapter, suite: suite, kdf: kdf, audit: audit, logger: logger}
	if *signAlg != "" {
		if err := h.withSigner(ctx, *signAlg); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer h.signer.Wipe()
	}

	var total time.Duration
	for i := 0; i < cfg.Iterations; i++ {
		start := time.Now()
		th, err := h.once(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: handshake %d: %v\n", i, err)
			return 1
		}
		d := time.Since(start)
		total += d
		fmt.Fprintf(stdout, "%3d  %s  %-10s transcript %s\n", i, suite, d.Round(time.Microsecond), pqhybrid.Fingerprint(th))
	}
	fmt.Fprintf(stdout, "%d handshakes, mean %s\n", cfg.Iterations, (total / time.Duration(cfg.Iterations)).Round(time.Microsecond))
	return 0
}

// handshaker runs complete in-process handshakes between a fresh responder
// and an initiator.
type handshaker struct {
	adapter *pqhybrid.Adapter
	suite   pqhybrid.Suite
	kdf     pqhybrid.KDF
	audit   pqhybrid.AuditSink
	logger  *slog.Logger
	signer  *pqhybrid.KeyPair
}

func (h *handshaker) withSigner(ctx context.Context, alg string) error {
	desc, err := h.adapter.Registry().Lookup(alg)
	if err != nil {
		return err
	}
	h.signer, err = h.adapter.GenerateKeyPair(ctx, desc)
	return err
}

func (h *handshaker) once(ctx context.Context) ([]byte, error) {
	keys, err := pqhybrid.GenerateResponderKeys(ctx, h.adapter, h.suite)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe()

	rcfg := pqhybrid.ResponderConfig(h.suite, keys)
	icfg := pqhybrid.InitiatorConfig(h.suite, keys.PublicKeys())
	for _, c := range []*pqhybrid.HandshakeConfig{&rcfg, &icfg} {
		c.KDF = h.kdf
		c.Audit = h.audit
		c.Logger = h.logger
	}
	if h.signer != nil {
		icfg.Signer = h.signer
		rcfg.PeerSignaturePublic = h.signer.Public
		rcfg.SignatureAlgorithm = h.signer.Descriptor.Name()
	}

	initiator, err := pqhybrid.NewSession(h.adapter, icfg)
	if err != nil {
		return nil, err
	}
	defer initiator.Close()
	responder, err := pqhybrid.NewSession(h.adapter, rcfg)
	if err != nil {
		return nil, err
	}
	defer responder.Close()

	msg, err := initiator.Initiate(ctx)
	if err != nil {
		return nil, err
	}
	wire, err := msg.MarshalBinary()
	if err != nil {
		return nil, err
	}
	received, err := pqhybrid.UnmarshalHandshakeMessage(wire)
	if err != nil {
		return nil, err
	}
	if err := responder.Respond(ctx, received); err != nil {
		return nil, err
	}

	ik, err := initiator.TakeSessionKey()
	if err != nil {
		return nil, err
	}
	defer ik.Wipe()
	rk, err := responder.TakeSessionKey()
	if err != nil {
		return nil, err
	}
	defer rk.Wipe()
	if !ik.Equal(rk) {
		return nil, errors.New("session keys differ")
	}
	return responder.TranscriptHash(), nil
}
