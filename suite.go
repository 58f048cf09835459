package pqhybrid

import (
	"fmt"
	"strings"
)

// A Suite names the two legs of a hybrid handshake: a classical key
// agreement and a post-quantum KEM. Its text form is "X25519+ML-KEM-768".
type Suite struct {
	Classical string
	PQ        string
}

// Name returns the text form of the suite.
func (s Suite) Name() string {
	return s.Classical + "+" + s.PQ
}

func (s Suite) String() string {
	return s.Name()
}

// ParseSuite parses "Classical+PQ".
func ParseSuite(s string) (Suite, error) {
	classical, pq, ok := strings.Cut(s, "+")
	if !ok || classical == "" || pq == "" {
		return Suite{}, fmt.Errorf("pqhybrid: malformed suite %q", s)
	}
	return Suite{Classical: classical, PQ: pq}, nil
}

// DefaultSuites returns the built-in suites in preference order.
func DefaultSuites() []Suite {
	return []Suite{
		{Classical: "X25519", PQ: "ML-KEM-768"},
		{Classical: "X25519", PQ: "ML-KEM-512"},
		{Classical: "X448", PQ: "ML-KEM-1024"},
		{Classical: "ECDH-P256", PQ: "ML-KEM-768"},
		{Classical: "ECDH-P384", PQ: "ML-KEM-1024"},
	}
}

// Resolve looks up both legs and checks that each is hybrid-eligible and of
// the right family.
func (s Suite) Resolve(reg *Registry) (classical, pq *AlgorithmDescriptor, err error) {
	classical, err = reg.Lookup(s.Classical)
	if err != nil {
		return nil, nil, err
	}
	pq, err = reg.Lookup(s.PQ)
	if err != nil {
		return nil, nil, err
	}
	if classical.Family() != FamilyKeyAgreement || !classical.HybridEligible {
		return nil, nil, fmt.Errorf("%w: %s as classical leg", ErrNotHybridEligible, classical.Name())
	}
	if pq.Family() != FamilyKEM || !pq.HybridEligible || !pq.PostQuantum {
		return nil, nil, fmt.Errorf("%w: %s as post-quantum leg", ErrNotHybridEligible, pq.Name())
	}
	return classical, pq, nil
}

// Negotiate picks the first suite in local preference order that the peer
// also offers and that resolves against reg.
func Negotiate(reg *Registry, local, offered []Suite) (Suite, error) {
	peer := make(map[Suite]struct{}, len(offered))
	for _, s := range offered {
		peer[s] = struct{}{}
	}
	for _, s := range local {
		if _, ok := peer[s]; !ok {
			continue
		}
		if _, _, err := s.Resolve(reg); err != nil {
			continue
		}
		return s, nil
	}
	return Suite{}, ErrNoCommonSuite
}
