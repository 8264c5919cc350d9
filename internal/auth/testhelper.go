package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nfrund/roomcast/internal/domain"
)

// TestSigner mints credentials for tests and local tooling. Credential
// issuance belongs to the account service; do not use in production.
type TestSigner struct {
	method   jwt.SigningMethod
	key      any
	Issuer   string
	Audience string
}

// NewHMACTestSigner signs HS256 credentials with secret.
func NewHMACTestSigner(secret []byte) *TestSigner {
	return &TestSigner{method: jwt.SigningMethodHS256, key: secret}
}

// NewECDSATestSigner generates a fresh P-256 key pair and returns the signer
// along with the PEM-encoded public key.
func NewECDSATestSigner() (*TestSigner, string, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", err
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, "", err
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return &TestSigner{method: jwt.SigningMethodES256, key: priv}, string(pubPEM), nil
}

// Issue signs an access credential for userID valid for ttl. A negative ttl
// yields an already expired credential.
func (s *TestSigner) Issue(userID, name string, ttl time.Duration) (string, error) {
	return s.issue(userID, name, domain.TokenAccess, ttl)
}

// IssueRefresh signs a refresh credential for userID valid for ttl.
func (s *TestSigner) IssueRefresh(userID string, ttl time.Duration) (string, error) {
	return s.issue(userID, "", domain.TokenRefresh, ttl)
}

func (s *TestSigner) issue(userID, name string, typ domain.TokenType, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Name:      name,
		TokenType: typ,
	}
	if s.Issuer != "" {
		claims.Issuer = s.Issuer
	}
	if s.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.Audience}
	}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.key)
}
