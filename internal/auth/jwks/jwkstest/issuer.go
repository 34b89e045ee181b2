// Package jwkstest provides an in-process token issuer for tests. It
// serves a JWKS document at /.well-known/jwks.json and signs tokens whose
// keys validate against that document.
//
//	iss := jwkstest.NewIssuer(t)
//	token := iss.Sign(t, iss.Claims("user-1", "api-x", time.Hour))
package jwkstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeySetPath is the path the issuer serves its key set on.
const KeySetPath = "/.well-known/jwks.json"

// rsaKeyBits is the size of generated signing keys.
const rsaKeyBits = 2048

// Issuer is a test identity provider.
type Issuer struct {
	server *httptest.Server

	mu      sync.Mutex
	keys    map[string]*rsa.PrivateKey
	order   []string
	foreign map[string]jwk.Key
	primary string
	status  int
	body    []byte
	delay   time.Duration
	nextID  int

	requests atomic.Int64
}

// NewIssuer starts an issuer with one RSA signing key. The server is
// closed when the test ends.
func NewIssuer(tb testing.TB) *Issuer {
	tb.Helper()

	iss := &Issuer{
		keys:    make(map[string]*rsa.PrivateKey),
		foreign: make(map[string]jwk.Key),
	}
	iss.primary = iss.addKey(tb)

	mux := http.NewServeMux()
	mux.HandleFunc(KeySetPath, iss.handleKeySet)
	iss.server = httptest.NewServer(mux)
	tb.Cleanup(iss.server.Close)

	return iss
}

// URL returns the issuer identifier, which is the server base URL.
func (i *Issuer) URL() string {
	return i.server.URL
}

// Close stops the server. Later fetches fail at the transport level.
func (i *Issuer) Close() {
	i.server.Close()
}

// Requests returns how many key set requests the issuer has served.
func (i *Issuer) Requests() int64 {
	return i.requests.Load()
}

// KeyID returns the kid of the primary signing key.
func (i *Issuer) KeyID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.primary
}

// PrivateKey returns the primary signing key.
func (i *Issuer) PrivateKey() *rsa.PrivateKey {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.keys[i.primary]
}

// AddKey publishes an additional RSA key and returns its kid.
func (i *Issuer) AddKey(tb testing.TB) string {
	tb.Helper()
	return i.addKey(tb)
}

// Rotate publishes a new primary key and withdraws the previous one.
// It returns the new kid.
func (i *Issuer) Rotate(tb testing.TB) string {
	tb.Helper()

	kid := i.addKey(tb)

	i.mu.Lock()
	old := i.primary
	i.primary = kid
	i.mu.Unlock()

	i.RemoveKey(old)
	return kid
}

// RemoveKey withdraws a key from the published set.
func (i *Issuer) RemoveKey(kid string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.keys, kid)
	for n, k := range i.order {
		if k == kid {
			i.order = append(i.order[:n], i.order[n+1:]...)
			break
		}
	}
}

// PublishECKey publishes an EC P-256 public key under kid.
func (i *Issuer) PublishECKey(tb testing.TB, kid string) {
	tb.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tb.Fatalf("generate EC key: %v", err)
	}
	key, err := jwk.FromRaw(priv.Public())
	if err != nil {
		tb.Fatalf("encode EC key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		tb.Fatalf("set kid: %v", err)
	}

	i.mu.Lock()
	i.foreign[kid] = key
	i.mu.Unlock()
}

// FailWith makes the endpoint answer with status until Recover is called.
func (i *Issuer) FailWith(status int) {
	i.mu.Lock()
	i.status = status
	i.mu.Unlock()
}

// ServeBody makes the endpoint answer 200 with body until Recover.
func (i *Issuer) ServeBody(body []byte) {
	i.mu.Lock()
	i.body = body
	i.mu.Unlock()
}

// Recover restores normal responses.
func (i *Issuer) Recover() {
	i.mu.Lock()
	i.status = 0
	i.body = nil
	i.mu.Unlock()
}

// SetDelay delays every response by d.
func (i *Issuer) SetDelay(d time.Duration) {
	i.mu.Lock()
	i.delay = d
	i.mu.Unlock()
}

// Document returns the JWKS document currently published.
func (i *Issuer) Document(tb testing.TB) []byte {
	tb.Helper()

	doc, err := i.document()
	if err != nil {
		tb.Fatalf("encode key set: %v", err)
	}
	return doc
}

// Claims returns registered claims for subject and audience issued by
// this issuer and expiring after ttl. A negative ttl yields an expired
// token.
func (i *Issuer) Claims(subject, audience string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": i.URL(),
		"sub": subject,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
}

// Sign signs claims with the primary key using RS256.
func (i *Issuer) Sign(tb testing.TB, claims jwt.Claims) string {
	tb.Helper()
	return i.SignWith(tb, jwt.SigningMethodRS256, i.KeyID(), claims)
}

// SignWith signs claims with the key kid using method. The kid header is
// set even when kid is not published, so tests can reference unknown keys;
// those tokens are signed with the primary key. An empty kid omits the
// header.
func (i *Issuer) SignWith(tb testing.TB, method jwt.SigningMethod, kid string, claims jwt.Claims) string {
	tb.Helper()

	i.mu.Lock()
	priv, ok := i.keys[kid]
	if !ok {
		priv = i.keys[i.primary]
	}
	i.mu.Unlock()

	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(priv)
	if err != nil {
		tb.Fatalf("sign token: %v", err)
	}
	return signed
}

func (i *Issuer) addKey(tb testing.TB) string {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		tb.Fatalf("generate RSA key: %v", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.nextID++
	kid := "key-" + strconv.Itoa(i.nextID)
	i.keys[kid] = priv
	i.order = append(i.order, kid)
	return kid
}

func (i *Issuer) document() ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	set := jwk.NewSet()
	for _, kid := range i.order {
		key, err := jwk.FromRaw(i.keys[kid].Public())
		if err != nil {
			return nil, err
		}
		for name, value := range map[string]interface{}{
			jwk.KeyIDKey:     kid,
			jwk.AlgorithmKey: jwa.RS256,
			jwk.KeyUsageKey:  "sig",
		} {
			if err := key.Set(name, value); err != nil {
				return nil, err
			}
		}
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
	}
	for _, key := range i.foreign {
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
	}

	return json.Marshal(set)
}

func (i *Issuer) handleKeySet(w http.ResponseWriter, _ *http.Request) {
	i.requests.Add(1)

	i.mu.Lock()
	status, body, delay := i.status, i.body, i.delay
	i.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	if body == nil {
		var err error
		body, err = i.document()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
