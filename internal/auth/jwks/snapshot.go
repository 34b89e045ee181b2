package jwks

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// keySet is one issuer's parsed document. It is never mutated after it
// has been published in a snapshot.
type keySet struct {
	keys map[string]*rsa.PublicKey
	// foreign maps kids whose entry is not a usable RSA public key to
	// the reason.
	foreign   map[string]string
	fetchedAt time.Time
	// invalidated holds kids reported as failing signature checks.
	invalidated map[string]struct{}
}

// lookup returns the key for kid, or the failure kind.
func (s *keySet) lookup(kid string) (*rsa.PublicKey, error) {
	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	if reason, ok := s.foreign[kid]; ok {
		return nil, fmt.Errorf("%w: %s", ErrMalformedKeySet, reason)
	}
	return nil, ErrKeyNotFound
}

func (s *keySet) fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.fetchedAt) < ttl
}

func (s *keySet) isInvalidated(kid string) bool {
	_, ok := s.invalidated[kid]
	return ok
}

// withInvalidated returns a copy of s with kid marked for refresh.
func (s *keySet) withInvalidated(kid string) *keySet {
	out := *s
	out.invalidated = make(map[string]struct{}, len(s.invalidated)+1)
	for k := range s.invalidated {
		out.invalidated[k] = struct{}{}
	}
	out.invalidated[kid] = struct{}{}
	return &out
}

// parseKeySet decodes a JWKS document. Entries without a kid are
// ignored because they can never be selected.
func parseKeySet(data []byte, fetchedAt time.Time) (*keySet, error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKeySet, err)
	}

	ks := &keySet{
		keys:      make(map[string]*rsa.PublicKey, set.Len()),
		foreign:   make(map[string]string),
		fetchedAt: fetchedAt,
	}

	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid := key.KeyID()
		if kid == "" {
			continue
		}
		if key.KeyType() != jwa.RSA {
			ks.foreign[kid] = "key type " + string(key.KeyType()) + " is not RSA"
			continue
		}
		pub, err := rsaPublicKey(key)
		if err != nil {
			ks.foreign[kid] = err.Error()
			continue
		}
		ks.keys[kid] = pub
	}

	return ks, nil
}

func rsaPublicKey(key jwk.Key) (*rsa.PublicKey, error) {
	pk, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	var raw rsa.PublicKey
	if err := pk.Raw(&raw); err != nil {
		return nil, fmt.Errorf("decode RSA key: %w", err)
	}
	if raw.N == nil || raw.E == 0 {
		return nil, errors.New("incomplete RSA key")
	}
	return &raw, nil
}

// snapshot maps normalized issuers to their key sets.
type snapshot struct {
	sets map[string]*keySet
}

func emptySnapshot() *snapshot {
	return &snapshot{sets: map[string]*keySet{}}
}

func (s *snapshot) get(issuer string) *keySet {
	return s.sets[issuer]
}

// with returns a copy of s with issuer's set replaced.
func (s *snapshot) with(issuer string, ks *keySet) *snapshot {
	sets := make(map[string]*keySet, len(s.sets)+1)
	for k, v := range s.sets {
		sets[k] = v
	}
	sets[issuer] = ks
	return &snapshot{sets: sets}
}
