package pqhybrid

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Adapter is the uniform call surface over every provider family. It checks
// all byte lengths before delegating, asserts the lengths of everything a
// provider returns, and bounds every provider call by a deadline.
//
// An Adapter is safe for concurrent use provided its random source is.
type Adapter struct {
	registry  *Registry
	providers *Providers
	random    io.Reader
	timeout   time.Duration
	logger    *slog.Logger
	inflight  drainGroup
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithRandom sets the entropy source passed to providers. Nil selects
// crypto/rand.
func WithRandom(r io.Reader) AdapterOption {
	return func(a *Adapter) { a.random = r }
}

// WithTimeout bounds every provider call. Zero disables the per-call bound;
// context deadlines still apply.
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) { a.timeout = d }
}

// WithLogger sets the adapter's logger.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter creates an Adapter over a registry and a provider set.
func NewAdapter(reg *Registry, providers *Providers, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		registry:  reg,
		providers: providers,
		logger:    discardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "adapter")
	return a
}

// Registry returns the registry the adapter was built with.
func (a *Adapter) Registry() *Registry { return a.registry }

// Providers returns the provider set the adapter was built with.
func (a *Adapter) Providers() *Providers { return a.providers }

// Drain waits until every provider call still running on its own goroutine
// has returned and any output it produced after being abandoned has been
// wiped. It returns ctx.Err() if ctx ends first.
func (a *Adapter) Drain(ctx context.Context) error {
	return a.inflight.wait(ctx)
}

type keyMaterial struct {
	public, secret []byte
}

type encapsulated struct {
	ciphertext, sharedSecret []byte
}

// GenerateKeyPair generates a keypair whose lengths match desc exactly.
func (a *Adapter) GenerateKeyPair(ctx context.Context, desc *AlgorithmDescriptor) (*KeyPair, error) {
	name := desc.Name()

	var call func([]byte) (keyMaterial, error)
	switch desc.Family() {
	case FamilyKEM:
		p, err := a.providers.kemFor(name)
		if err != nil {
			return nil, &OpError{Algorithm: name, Op: OpKeyGen, Err: ErrNoProvider}
		}
		call = func([]byte) (keyMaterial, error) {
			pub, sk, err := p.GenerateKeypair(a.random)
			return keyMaterial{pub, sk}, err
		}
	case FamilySignature:
		p, err := a.providers.signatureFor(name)
		if err != nil {
			return nil, &OpError{Algorithm: name, Op: OpKeyGen, Err: ErrNoProvider}
		}
		call = func([]byte) (keyMaterial, error) {
			pub, sk, err := p.GenerateKeypair(a.random)
			return keyMaterial{pub, sk}, err
		}
	case FamilyKeyAgreement:
		p, err := a.providers.keyAgreementFor(name)
		if err != nil {
			return nil, &OpError{Algorithm: name, Op: OpKeyGen, Err: ErrNoProvider}
		}
		call = func([]byte) (keyMaterial, error) {
			pub, sk, err := p.GenerateKeypair(a.random)
			return keyMaterial{pub, sk}, err
		}
	default:
		return nil, &OpError{Algorithm: name, Op: OpKeyGen, Err: ErrUnsupportedOperation}
	}

	km, err := guard(ctx, a, name, OpKeyGen, nil, call, func(km keyMaterial) { secureZero(km.secret) })
	if err != nil {
		return nil, err
	}
	if len(km.public) != desc.PublicKeyLen {
		secureZero(km.secret)
		return nil, lengthError(name, OpKeyGen, ErrProvider, desc.PublicKeyLen, len(km.public))
	}
	if len(km.secret) != desc.SecretKeyLen {
		secureZero(km.secret)
		return nil, lengthError(name, OpKeyGen, ErrProvider, desc.SecretKeyLen, len(km.secret))
	}
	return NewKeyPair(desc, km.public, km.secret), nil
}

// Encapsulate encapsulates a fresh shared secret to peerPublic.
func (a *Adapter) Encapsulate(ctx context.Context, desc *AlgorithmDescriptor, peerPublic []byte) (*EncapsulationResult, error) {
	name := desc.Name()
	if !desc.Supports(OpEncapsulate) {
		return nil, &OpError{Algorithm: name, Op: OpEncapsulate, Err: ErrUnsupportedOperation}
	}
	if len(peerPublic) != desc.PublicKeyLen {
		return nil, lengthError(name, OpEncapsulate, ErrInvalidPublicKey, desc.PublicKeyLen, len(peerPublic))
	}
	p, err := a.providers.kemFor(name)
	if err != nil {
		return nil, &OpError{Algorithm: name, Op: OpEncapsulate, Err: ErrNoProvider}
	}

	enc, err := guard(ctx, a, name, OpEncapsulate, nil, func([]byte) (encapsulated, error) {
		ct, ss, err := p.Encapsulate(peerPublic, a.random)
		return encapsulated{ct, ss}, err
	}, func(e encapsulated) { secureZero(e.sharedSecret) })
	if err != nil {
		return nil, err
	}
	if len(enc.ciphertext) != desc.CiphertextLen {
		secureZero(enc.sharedSecret)
		return nil, lengthError(name, OpEncapsulate, ErrProvider, desc.CiphertextLen, len(enc.ciphertext))
	}
	if len(enc.sharedSecret) != desc.SharedSecretLen {
		secureZero(enc.sharedSecret)
		return nil, lengthError(name, OpEncapsulate, ErrProvider, desc.SharedSecretLen, len(enc.sharedSecret))
	}
	return &EncapsulationResult{
		Descriptor:   desc,
		Ciphertext:   enc.ciphertext,
		SharedSecret: SecretFrom(enc.sharedSecret),
	}, nil
}

// Decapsulate recovers the shared secret carried by ciphertext. The provider
// is called without any branching on secret-key content.
func (a *Adapter) Decapsulate(ctx context.Context, desc *AlgorithmDescriptor, secretKey, ciphertext []byte) (*Secret, error) {
	name := desc.Name()
	if !desc.Supports(OpDecapsulate) {
		return nil, &OpError{Algorithm: name, Op: OpDecapsulate, Err: ErrUnsupportedOperation}
	}
	if len(ciphertext) != desc.CiphertextLen {
		return nil, lengthError(name, OpDecapsulate, ErrInvalidCiphertext, desc.CiphertextLen, len(ciphertext))
	}
	if len(secretKey) != desc.SecretKeyLen {
		return nil, lengthError(name, OpDecapsulate, ErrInvalidSecretKey, desc.SecretKeyLen, len(secretKey))
	}
	p, err := a.providers.kemFor(name)
	if err != nil {
		return nil, &OpError{Algorithm: name, Op: OpDecapsulate, Err: ErrNoProvider}
	}

	ss, err := guard(ctx, a, name, OpDecapsulate, secretKey, func(sk []byte) ([]byte, error) {
		return p.Decapsulate(sk, ciphertext)
	}, secureZero)
	if err != nil {
		return nil, err
	}
	if len(ss) != desc.SharedSecretLen {
		secureZero(ss)
		return nil, lengthError(name, OpDecapsulate, ErrProvider, desc.SharedSecretLen, len(ss))
	}
	return SecretFrom(ss), nil
}

// Sign signs message with secretKey.
func (a *Adapter) Sign(ctx context.Context, desc *AlgorithmDescriptor, secretKey, message []byte) ([]byte, error) {
	name := desc.Name()
	if !desc.Supports(OpSign) {
		return nil, &OpError{Algorithm: name, Op: OpSign, Err: ErrUnsupportedOperation}
	}
	if len(secretKey) != desc.SecretKeyLen {
		return nil, lengthError(name, OpSign, ErrInvalidSecretKey, desc.SecretKeyLen, len(secretKey))
	}
	p, err := a.providers.signatureFor(name)
	if err != nil {
		return nil, &OpError{Algorithm: name, Op: OpSign, Err: ErrNoProvider}
	}

	sig, err := guard(ctx, a, name, OpSign, secretKey, func(sk []byte) ([]byte, error) {
		return p.Sign(sk, message, a.random)
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(sig) != desc.SignatureLen {
		return nil, lengthError(name, OpSign, ErrProvider, desc.SignatureLen, len(sig))
	}
	return sig, nil
}

// Verify reports whether signature is valid for message under publicKey. A
// well-formed signature that does not match returns false and no error; only
// malformed input lengths and provider failures are errors.
func (a *Adapter) Verify(ctx context.Context, desc *AlgorithmDescriptor, publicKey, message, signature []byte) (bool, error) {
	name := desc.Name()
	if !desc.Supports(OpVerify) {
		return false, &OpError{Algorithm: name, Op: OpVerify, Err: ErrUnsupportedOperation}
	}
	if len(publicKey) != desc.PublicKeyLen {
		return false, lengthError(name, OpVerify, ErrInvalidPublicKey, desc.PublicKeyLen, len(publicKey))
	}
	if len(signature) != desc.SignatureLen {
		return false, lengthError(name, OpVerify, ErrInvalidSignature, desc.SignatureLen, len(signature))
	}
	p, err := a.providers.signatureFor(name)
	if err != nil {
		return false, &OpError{Algorithm: name, Op: OpVerify, Err: ErrNoProvider}
	}

	return guard(ctx, a, name, OpVerify, nil, func([]byte) (bool, error) {
		return p.Verify(publicKey, message, signature), nil
	}, nil)
}

// Agree computes the classical shared secret of secretKey and peerPublic.
func (a *Adapter) Agree(ctx context.Context, desc *AlgorithmDescriptor, secretKey, peerPublic []byte) (*Secret, error) {
	name := desc.Name()
	if !desc.Supports(OpAgree) {
		return nil, &OpError{Algorithm: name, Op: OpAgree, Err: ErrUnsupportedOperation}
	}
	if len(peerPublic) != desc.PublicKeyLen {
		return nil, lengthError(name, OpAgree, ErrInvalidPublicKey, desc.PublicKeyLen, len(peerPublic))
	}
	if len(secretKey) != desc.SecretKeyLen {
		return nil, lengthError(name, OpAgree, ErrInvalidSecretKey, desc.SecretKeyLen, len(secretKey))
	}
	p, err := a.providers.keyAgreementFor(name)
	if err != nil {
		return nil, &OpError{Algorithm: name, Op: OpAgree, Err: ErrNoProvider}
	}

	ss, err := guard(ctx, a, name, OpAgree, secretKey, func(sk []byte) ([]byte, error) {
		return p.Agree(sk, peerPublic)
	}, secureZero)
	if err != nil {
		return nil, err
	}
	if len(ss) != desc.SharedSecretLen {
		secureZero(ss)
		return nil, lengthError(name, OpAgree, ErrProvider, desc.SharedSecretLen, len(ss))
	}
	return SecretFrom(ss), nil
}

type callResult[T any] struct {
	v   T
	err error
}

// guard runs a provider call under the adapter timeout and ctx. secretIn is
// the secret key the call reads, if any.
//
// Without a deadline the call runs inline. Otherwise it runs on its own
// goroutine over a private copy of secretIn, wiped when the call returns, so
// the caller may wipe its key as soon as guard returns. A call that outlives
// its deadline is abandoned: the caller gets ErrProvider wrapping the context
// error, and the late result is passed to discard on the provider goroutine.
// Drain waits for abandoned calls.
func guard[T any](ctx context.Context, a *Adapter, alg string, op Operation, secretIn []byte, call func(sk []byte) (T, error), discard func(T)) (T, error) {
	var zero T
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	if ctx.Done() == nil {
		v, err := safeCall(func() (T, error) { return call(secretIn) })
		if err != nil {
			a.logger.Debug("provider call failed", "alg", alg, "op", op, "err", err)
			return zero, providerError(alg, op, err)
		}
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, providerError(alg, op, err)
	}

	sk := cloneSecret(secretIn)
	timer := callTimerFrom(ctx)
	scope := drainGroupFrom(ctx)
	a.inflight.add()
	scope.add()

	done := make(chan callResult[T])
	abandon := make(chan struct{})
	go func() {
		defer a.inflight.done()
		defer scope.done()
		defer sk.Wipe()

		var start time.Time
		if timer != nil {
			start = timer.now()
		}
		v, err := safeCall(func() (T, error) { return call(sk.Bytes()) })
		if timer != nil {
			timer.elapsed = timer.now().Sub(start)
			timer.set = true
		}

		select {
		case done <- callResult[T]{v, err}:
		case <-abandon:
			if err == nil && discard != nil {
				discard(v)
			}
		}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			a.logger.Debug("provider call failed", "alg", alg, "op", op, "err", r.err)
			return zero, providerError(alg, op, r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		close(abandon)
		a.logger.Warn("provider call abandoned", "alg", alg, "op", op, "err", ctx.Err())
		return zero, providerError(alg, op, ctx.Err())
	}
}

// safeCall converts a provider panic into an error.
func safeCall[T any](call func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	return call()
}

// A drainGroup counts provider calls running on their own goroutines. The
// zero value is ready to use and a nil group ignores every call.
type drainGroup struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (g *drainGroup) add() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n == 0 {
		g.idle = make(chan struct{})
	}
	g.n++
}

func (g *drainGroup) done() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n--
	if g.n == 0 {
		close(g.idle)
	}
}

func (g *drainGroup) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// wait blocks until the count drops to zero or ctx ends.
func (g *drainGroup) wait(ctx context.Context) error {
	g.mu.Lock()
	if g.n == 0 {
		g.mu.Unlock()
		return nil
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type drainGroupKey struct{}

// withDrainGroup makes every provider call started under ctx count against g
// in addition to the adapter-wide count.
func withDrainGroup(ctx context.Context, g *drainGroup) context.Context {
	return context.WithValue(ctx, drainGroupKey{}, g)
}

func drainGroupFrom(ctx context.Context) *drainGroup {
	g, _ := ctx.Value(drainGroupKey{}).(*drainGroup)
	return g
}

// A callTimer receives the duration of the provider call alone when guard
// runs it on a separate goroutine. It is valid only after the call returned
// without error, and serves a single call.
type callTimer struct {
	now     func() time.Time
	elapsed time.Duration
	set     bool
}

type callTimerKey struct{}

func withCallTimer(ctx context.Context, t *callTimer) context.Context {
	return context.WithValue(ctx, callTimerKey{}, t)
}

func callTimerFrom(ctx context.Context) *callTimer {
	t, _ := ctx.Value(callTimerKey{}).(*callTimer)
	return t
}
