package auth

import (
	"crypto"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nfrund/roomcast/internal/domain"
)

// Claims are the JWT claims of an access credential.
type Claims struct {
	jwt.RegisteredClaims
	// Name is an optional display name. When absent the name is looked up lazily.
	Name string `json:"name,omitempty"`
	// TokenType is "access" or "refresh". Missing means access.
	TokenType domain.TokenType `json:"typ,omitempty"`
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) VerifierOption {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) VerifierOption {
	return func(v *Verifier) { v.audience = audience }
}

// WithLeeway tolerates clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.leeway = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

type publicKeyHolder struct {
	key crypto.PublicKey
}

// Verifier checks signature and expiry of access credentials. It supports
// HS256 with a shared secret and RS256/ES256 with a public key that can be
// swapped at runtime.
type Verifier struct {
	secret    []byte
	publicKey atomic.Pointer[publicKeyHolder]
	issuer    string
	audience  string
	leeway    time.Duration
	now       func() time.Time
}

// NewHMACVerifier returns a Verifier for HS256 credentials.
func NewHMACVerifier(secret []byte, opts ...VerifierOption) *Verifier {
	v := &Verifier{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewKeyVerifier returns a Verifier for RS256 or ES256 credentials signed by pub's private key.
func NewKeyVerifier(pub crypto.PublicKey, opts ...VerifierOption) (*Verifier, error) {
	v := &Verifier{now: time.Now}
	if err := v.SetPublicKey(pub); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// SetPublicKey replaces the verification key. Tokens in flight are checked
// against whichever key is current when they arrive.
func (v *Verifier) SetPublicKey(pub crypto.PublicKey) error {
	if KeyAlg(pub) == "" {
		return ErrInvalidKey
	}
	v.publicKey.Store(&publicKeyHolder{key: pub})
	return nil
}

func (v *Verifier) validMethods() []string {
	var methods []string
	if len(v.secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if h := v.publicKey.Load(); h != nil {
		methods = append(methods, KeyAlg(h.key))
	}
	return methods
}

func (v *Verifier) keyFunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.secret) == 0 {
			return nil, errors.New("hmac credentials are not accepted")
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		h := v.publicKey.Load()
		if h == nil {
			return nil, errors.New("no public key configured")
		}
		return h.key, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
}

// Verify parses raw and validates signature, expiry and, when configured,
// issuer and audience. Any failure is reported as domain.ErrInvalidCredential.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.validMethods()),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}
	if !token.Valid {
		return nil, domain.ErrInvalidCredential
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", domain.ErrInvalidCredential)
	}
	if claims.TokenType != "" && claims.TokenType != domain.TokenAccess {
		return nil, fmt.Errorf("%w: %s tokens can not open connections", domain.ErrInvalidCredential, claims.TokenType)
	}
	return claims, nil
}

// ExpiresAtTime returns the credential's expiry, or nil when it has none.
func (c *Claims) ExpiresAtTime() *time.Time {
	if c == nil || c.ExpiresAt == nil {
		return nil
	}
	t := c.ExpiresAt.Time
	return &t
}

// ParseUnverified extracts claims without checking the signature. It is only
// used to read the expiry of a credential that is being revoked.
func ParseUnverified(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}
	return claims, nil
}
