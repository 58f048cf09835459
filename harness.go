package pqhybrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCVThreshold is the coefficient of variation above which an
// operation is flagged as a possible timing leak.
const DefaultCVThreshold = 0.25

// DefaultDrainTimeout bounds how long Run waits for abandoned provider calls
// before returning.
const DefaultDrainTimeout = 10 * time.Second

// benchMessageSize is the fixed message length used for sign and verify.
const benchMessageSize = 32

var errCorrectness = errors.New("pqhybrid: benchmark correctness check failed")

// Harness drives repeated, isolated invocations of adapter operations and
// collects latency and memory statistics.
type Harness struct {
	adapter     *Adapter
	cvThreshold float64
	probe       MemoryProbe
	now         func() time.Time
	parallelism int
	sink        SampleSink
	drain       time.Duration
	logger      *slog.Logger
}

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithCVThreshold sets the timing-leak advisory threshold.
func WithCVThreshold(cv float64) HarnessOption {
	return func(h *Harness) { h.cvThreshold = cv }
}

// WithMemoryProbe sets the memory probe. Nil disables memory sampling.
// Probes read process-wide figures, so RunAll runs jobs one at a time while a
// probe is set.
func WithMemoryProbe(p MemoryProbe) HarnessOption {
	return func(h *Harness) { h.probe = p }
}

// WithClock replaces the clock used to time operations.
func WithClock(now func() time.Time) HarnessOption {
	return func(h *Harness) { h.now = now }
}

// WithParallelism bounds the number of descriptors benchmarked at once by
// RunAll. Zero or less means one worker per job.
func WithParallelism(n int) HarnessOption {
	return func(h *Harness) { h.parallelism = n }
}

// WithDrainTimeout bounds how long Run waits, before returning, for provider
// calls it abandoned on a deadline or cancellation.
func WithDrainTimeout(d time.Duration) HarnessOption {
	return func(h *Harness) { h.drain = d }
}

// WithSampleSink records every measured sample to sink.
func WithSampleSink(sink SampleSink) HarnessOption {
	return func(h *Harness) { h.sink = sink }
}

// WithHarnessLogger sets the harness logger.
func WithHarnessLogger(l *slog.Logger) HarnessOption {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHarness creates a benchmark harness over adapter.
func NewHarness(adapter *Adapter, opts ...HarnessOption) *Harness {
	h := &Harness{
		adapter:     adapter,
		cvThreshold: DefaultCVThreshold,
		probe:       HeapProbe{},
		now:         time.Now,
		drain:       DefaultDrainTimeout,
		logger:      discardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "harness")
	return h
}

// A Job benchmarks the listed operations of one descriptor. An empty
// Operations list selects every operation the descriptor supports.
type Job struct {
	Descriptor *AlgorithmDescriptor
	Operations []Operation
	Iterations int
	Warmup     int
}

func (j Job) operations() []Operation {
	if len(j.Operations) == 0 {
		return j.Descriptor.Operations()
	}
	return j.Operations
}

// Run executes warmup discarded calls followed by iterations measured calls
// of op on desc, and returns a report with a single summary. Calls run
// sequentially. It fails fast with ErrUnsupportedOperation, before any
// provider call, when desc's family does not support op, and fails when
// every warmup call failed.
//
// When a call runs under a deadline the adapter moves it to its own
// goroutine; the sample then holds the duration of the provider call alone.
// Before returning, including on cancellation, Run waits for the provider
// calls it abandoned to finish and wipe their output, then wipes its fixtures.
func (h *Harness) Run(ctx context.Context, desc *AlgorithmDescriptor, op Operation, iterations, warmup int) (*Report, error) {
	if !desc.Supports(op) {
		return nil, &OpError{Algorithm: desc.Name(), Op: op, Err: ErrUnsupportedOperation}
	}
	if iterations <= 0 {
		return nil, fmt.Errorf("pqhybrid: iterations must be positive, got %d", iterations)
	}
	if warmup < 0 {
		warmup = 0
	}

	logger := h.logger.With("alg", desc.Name(), "op", op)
	scope := &drainGroup{}
	ctx = withDrainGroup(ctx, scope)

	fx, err := h.prepare(ctx, desc, op)
	if err != nil {
		h.drainCalls(scope, logger)
		return nil, fmt.Errorf("pqhybrid: prepare %s %s: %w", desc.Name(), op, err)
	}
	defer func() {
		h.drainCalls(scope, logger)
		fx.wipe()
	}()

	var warmErr error
	warmFailures := 0
	for i := 0; i < warmup; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := fx.step(ctx)
		out.wipe()
		if err != nil {
			warmFailures++
			warmErr = err
			logger.Debug("warmup call failed", "iteration", i, "err", err)
		}
	}
	if warmup > 0 && warmFailures == warmup {
		return nil, fmt.Errorf("pqhybrid: every warmup call of %s %s failed: %w", desc.Name(), op, warmErr)
	}

	samples := make([]Sample, 0, iterations)
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		smp := h.measure(ctx, fx, i)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		smp.Algorithm = desc.Name()
		smp.Operation = op
		samples = append(samples, smp)
		if h.sink != nil {
			if err := h.sink.WriteSample(smp); err != nil {
				return nil, fmt.Errorf("pqhybrid: write sample: %w", err)
			}
		}
	}

	sum := summarize(desc.Name(), op, samples)
	report := NewReport()
	report.Summaries[ReportKey(desc.Name(), op)] = sum
	if sum.Count-sum.Failures > 1 && sum.CV > h.cvThreshold {
		sum.PossibleTimingLeak = true
		adv := &TimingAdvisory{Algorithm: desc.Name(), Op: op, CV: sum.CV, Threshold: h.cvThreshold}
		report.Advisories = append(report.Advisories, adv)
		logger.Warn("timing variance above threshold", "cv", sum.CV, "threshold", h.cvThreshold)
	}
	logger.Debug("benchmark finished", "count", sum.Count, "failures", sum.Failures, "mean", sum.Mean)
	return report, nil
}

// drainCalls waits up to the drain timeout for the provider calls of one Run.
func (h *Harness) drainCalls(scope *drainGroup, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), h.drain)
	defer cancel()
	if err := scope.wait(ctx); err != nil {
		logger.Warn("provider calls still running after drain timeout", "pending", scope.pending(), "timeout", h.drain)
	}
}

// RunAll runs every job with one worker per descriptor. Operations of one
// job run sequentially inside its worker. The first error cancels the
// remaining workers. With a memory probe set, jobs run one at a time so that
// no sample is charged for another worker's memory.
func (h *Harness) RunAll(ctx context.Context, jobs []Job) (*Report, error) {
	for _, job := range jobs {
		for _, op := range job.operations() {
			if !job.Descriptor.Supports(op) {
				return nil, &OpError{Algorithm: job.Descriptor.Name(), Op: op, Err: ErrUnsupportedOperation}
			}
		}
	}

	limit := h.parallelism
	if h.probe != nil && limit != 1 && len(jobs) > 1 {
		h.logger.Info("memory probe is process-wide, running jobs one at a time", "probe", h.probe.Name())
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	var mu sync.Mutex
	report := NewReport()
	for _, job := range jobs {
		g.Go(func() error {
			for _, op := range job.operations() {
				r, err := h.Run(gctx, job.Descriptor, op, job.Iterations, job.Warmup)
				if err != nil {
					return err
				}
				mu.Lock()
				report.Merge(r)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

// measure runs one timed call. Memory is probed and outputs are checked and
// wiped outside the timed window.
func (h *Harness) measure(ctx context.Context, fx *fixture, i int) Sample {
	smp := Sample{Iteration: i}

	var before uint64
	if h.probe != nil {
		before, _ = h.probe.Read()
	}

	timer := &callTimer{now: h.now}
	start := h.now()
	out, err := fx.step(withCallTimer(ctx, timer))
	smp.Duration = h.now().Sub(start)
	if err == nil && timer.set {
		smp.Duration = timer.elapsed
	}

	if h.probe != nil {
		if after, perr := h.probe.Read(); perr == nil {
			smp.MemoryDelta = int64(after) - int64(before)
		}
	}

	if err == nil && out.check != nil {
		err = out.check(ctx)
	}
	out.wipe()

	if err != nil {
		smp.Err = err.Error()
		return smp
	}
	smp.OK = true
	return smp
}

// A fixture holds the inputs an operation needs, built once before the
// measured loop and wiped after it.
type fixture struct {
	keys      *KeyPair
	peer      *KeyPair
	enc       *EncapsulationResult
	agreed    *Secret
	message   []byte
	signature []byte
	step      func(ctx context.Context) (*opOutput, error)
}

func (f *fixture) wipe() {
	f.keys.Wipe()
	f.peer.Wipe()
	f.enc.Wipe()
	f.agreed.Wipe()
}

// opOutput is what one call produced. check runs after timing.
type opOutput struct {
	keys    *KeyPair
	secrets []*Secret
	check   func(ctx context.Context) error
}

func (o *opOutput) wipe() {
	if o == nil {
		return
	}
	o.keys.Wipe()
	wipeAll(o.secrets...)
}

func (h *Harness) prepare(ctx context.Context, desc *AlgorithmDescriptor, op Operation) (*fixture, error) {
	a := h.adapter
	fx := &fixture{}

	if op == OpKeyGen {
		fx.step = func(ctx context.Context) (*opOutput, error) {
			kp, err := a.GenerateKeyPair(ctx, desc)
			if err != nil {
				return nil, err
			}
			return &opOutput{keys: kp}, nil
		}
		return fx, nil
	}

	keys, err := a.GenerateKeyPair(ctx, desc)
	if err != nil {
		return nil, err
	}
	fx.keys = keys

	switch op {
	case OpEncapsulate:
		fx.step = func(ctx context.Context) (*opOutput, error) {
			res, err := a.Encapsulate(ctx, desc, keys.Public)
			if err != nil {
				return nil, err
			}
			out := &opOutput{secrets: []*Secret{res.SharedSecret}}
			out.check = func(ctx context.Context) error {
				ss, err := a.Decapsulate(ctx, desc, keys.SecretKey(), res.Ciphertext)
				if err != nil {
					return err
				}
				out.secrets = append(out.secrets, ss)
				return equalSecrets(ss, res.SharedSecret)
			}
			return out, nil
		}

	case OpDecapsulate:
		fx.enc, err = a.Encapsulate(ctx, desc, keys.Public)
		if err != nil {
			fx.wipe()
			return nil, err
		}
		fx.step = func(ctx context.Context) (*opOutput, error) {
			ss, err := a.Decapsulate(ctx, desc, keys.SecretKey(), fx.enc.Ciphertext)
			if err != nil {
				return nil, err
			}
			return &opOutput{
				secrets: []*Secret{ss},
				check:   func(context.Context) error { return equalSecrets(ss, fx.enc.SharedSecret) },
			}, nil
		}

	case OpSign, OpVerify:
		fx.message = make([]byte, benchMessageSize)
		for i := range fx.message {
			fx.message[i] = byte(i)
		}
		if op == OpSign {
			fx.step = func(ctx context.Context) (*opOutput, error) {
				sig, err := a.Sign(ctx, desc, keys.SecretKey(), fx.message)
				if err != nil {
					return nil, err
				}
				return &opOutput{check: func(ctx context.Context) error {
					return expectValid(a.Verify(ctx, desc, keys.Public, fx.message, sig))
				}}, nil
			}
			break
		}
		fx.signature, err = a.Sign(ctx, desc, keys.SecretKey(), fx.message)
		if err != nil {
			fx.wipe()
			return nil, err
		}
		fx.step = func(ctx context.Context) (*opOutput, error) {
			ok, err := a.Verify(ctx, desc, keys.Public, fx.message, fx.signature)
			if err != nil {
				return nil, err
			}
			return &opOutput{check: func(context.Context) error { return expectValid(ok, nil) }}, nil
		}

	case OpAgree:
		fx.peer, err = a.GenerateKeyPair(ctx, desc)
		if err != nil {
			fx.wipe()
			return nil, err
		}
		fx.agreed, err = a.Agree(ctx, desc, fx.peer.SecretKey(), keys.Public)
		if err != nil {
			fx.wipe()
			return nil, err
		}
		fx.step = func(ctx context.Context) (*opOutput, error) {
			ss, err := a.Agree(ctx, desc, keys.SecretKey(), fx.peer.Public)
			if err != nil {
				return nil, err
			}
			return &opOutput{
				secrets: []*Secret{ss},
				check:   func(context.Context) error { return equalSecrets(ss, fx.agreed) },
			}, nil
		}

	default:
		fx.wipe()
		return nil, &OpError{Algorithm: desc.Name(), Op: op, Err: ErrUnsupportedOperation}
	}
	return fx, nil
}

func equalSecrets(a, b *Secret) error {
	if !a.Equal(b) {
		return errCorrectness
	}
	return nil
}

func expectValid(ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return errCorrectness
	}
	return nil
}
