package oidc

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// maxDocumentSize bounds discovery and JWKS response bodies
const maxDocumentSize = 1 << 20

// SigningKey is one provider public key, resolved by kid.
// Algorithm comes from the key material and is the only algorithm
// a token signed with this key may use.
type SigningKey struct {
	KeyID     string
	Algorithm string
	Material  crypto.PublicKey
}

// KeySet is an immutable snapshot of the provider's published keys.
type KeySet struct {
	keys      map[string]*SigningKey
	FetchedAt time.Time
}

// NewKeySet builds a key set from already resolved keys
func NewKeySet(keys ...*SigningKey) *KeySet {
	set := &KeySet{keys: make(map[string]*SigningKey, len(keys)), FetchedAt: time.Now()}
	for _, k := range keys {
		set.keys[k.KeyID] = k
	}
	return set
}

// Lookup returns the key with the given kid
func (s *KeySet) Lookup(kid string) (*SigningKey, bool) {
	if s == nil {
		return nil, false
	}
	k, ok := s.keys[kid]
	return k, ok
}

// Len returns the number of usable keys in the set
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// KeySource loads a fresh key set from the identity provider.
type KeySource interface {
	FetchKeys(ctx context.Context) (*KeySet, error)
}

// DiscoveryDocument is the subset of the OpenID provider metadata we use
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	JWKSURI               string `json:"jwks_uri"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// DiscoveryKeySource resolves the JWKS endpoint through the provider's
// discovery document and fetches the key set from it.
type DiscoveryKeySource struct {
	issuer     string
	httpClient *http.Client
}

// NewDiscoveryKeySource creates a key source for the given issuer origin.
// The client should carry a bounded timeout.
func NewDiscoveryKeySource(issuer string, httpClient *http.Client) *DiscoveryKeySource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &DiscoveryKeySource{
		issuer:     strings.TrimSuffix(issuer, "/"),
		httpClient: httpClient,
	}
}

// Discover fetches the provider's discovery document
func (d *DiscoveryKeySource) Discover(ctx context.Context) (*DiscoveryDocument, error) {
	body, err := d.get(ctx, d.issuer+"/.well-known/openid-configuration")
	if err != nil {
		return nil, fmt.Errorf("%w: discovery: %v", ErrKeyFetch, err)
	}

	var doc DiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode discovery document: %v", ErrKeyFetch, err)
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("%w: discovery document has no jwks_uri", ErrKeyFetch)
	}
	return &doc, nil
}

// FetchKeys performs discovery and then retrieves the JWKS document
func (d *DiscoveryKeySource) FetchKeys(ctx context.Context) (*KeySet, error) {
	doc, err := d.Discover(ctx)
	if err != nil {
		return nil, err
	}

	body, err := d.get(ctx, doc.JWKSURI)
	if err != nil {
		return nil, fmt.Errorf("%w: jwks: %v", ErrKeyFetch, err)
	}

	set, err := ParseKeySet(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	return set, nil
}

func (d *DiscoveryKeySource) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// ParseKeySet parses a JWKS document. Keys without a kid, symmetric keys,
// private keys, encryption keys and keys whose algorithm does not match
// their material are skipped.
func ParseKeySet(buf []byte) (*KeySet, error) {
	parsed, err := jwk.Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}

	keys := make([]*SigningKey, 0, parsed.Len())
	for i := 0; i < parsed.Len(); i++ {
		key, ok := parsed.Key(i)
		if !ok {
			continue
		}
		kid, ok := key.KeyID()
		if !ok || kid == "" {
			continue
		}
		if use, ok := key.KeyUsage(); ok && use != "" && use != "sig" {
			continue
		}

		var raw interface{}
		if err := jwk.Export(key, &raw); err != nil {
			continue
		}

		declared := ""
		if alg, ok := key.Algorithm(); ok {
			declared = alg.String()
		}
		alg, ok := signingAlgorithm(raw, declared)
		if !ok {
			continue
		}
		keys = append(keys, &SigningKey{KeyID: kid, Algorithm: alg, Material: raw})
	}

	return NewKeySet(keys...), nil
}

var curveAlgorithms = map[string]string{
	"P-256": "ES256",
	"P-384": "ES384",
	"P-521": "ES512",
}

// signingAlgorithm returns the algorithm a public key may verify, preferring
// the declared alg when it is compatible with the key type.
func signingAlgorithm(material interface{}, declared string) (string, bool) {
	switch k := material.(type) {
	case *rsa.PublicKey:
		switch declared {
		case "":
			return "RS256", true
		case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
			return declared, true
		}
	case *ecdsa.PublicKey:
		if k.Curve == nil {
			return "", false
		}
		alg, known := curveAlgorithms[k.Curve.Params().Name]
		if !known {
			return "", false
		}
		if declared == "" || declared == alg {
			return alg, true
		}
	case ed25519.PublicKey:
		if declared == "" || declared == "EdDSA" {
			return "EdDSA", true
		}
	}
	return "", false
}
