// Package cipher implements C1: symmetric-key encode/decode of bearer and
// refresh tokens, and hashing/salting of API-key secrets and user passwords.
package cipher

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/blockjoy/controlplane/internal/ids"
)

// ErrExpired is returned by Decode* when a token is well-formed but past its
// expiry. Callers must distinguish this from ErrInvalid (§4.1).
var ErrExpired = errors.New("token expired")

// ErrInvalid is returned for any token that fails signature or shape checks.
var ErrInvalid = errors.New("invalid token")

// ResourceKind tags the principal a Claims object authenticates.
type ResourceKind string

const (
	ResourceUser ResourceKind = "user"
	ResourceOrg  ResourceKind = "org"
	ResourceHost ResourceKind = "host"
	ResourceNode ResourceKind = "node"
)

// Resource is a tagged sum identifying the authenticated principal.
type Resource struct {
	Kind ResourceKind
	ID   string
}

// Claims is the decoded contents of a bearer token or a synthesized API-key
// identity (§4.3).
type Claims struct {
	Resource  Resource
	Expirable bool
	ExpiresAt time.Time
	Endpoints []string
	Data      map[string]string
}

// Refresh is the decoded contents of a refresh token.
type Refresh struct {
	Subject   Resource
	ExpiresAt time.Time
}

type bearerClaims struct {
	ResourceKind string            `json:"rk"`
	ResourceID   string            `json:"rid"`
	Endpoints    []string          `json:"eps,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	ResourceKind string `json:"rk"`
	ResourceID   string `json:"rid"`
	jwt.RegisteredClaims
}

// Cipher holds the symmetric signing secret shared across bearer and refresh
// tokens.
type Cipher struct {
	secret []byte
}

// New builds a Cipher from a non-empty HMAC secret.
func New(secret string) (*Cipher, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, fmt.Errorf("cipher: secret is required")
	}
	return &Cipher{secret: []byte(trimmed)}, nil
}

// EncodeBearer signs a Claims object into a bearer token string.
func (c *Cipher) EncodeBearer(claims Claims) (string, error) {
	rc := bearerClaims{
		ResourceKind: string(claims.Resource.Kind),
		ResourceID:   claims.Resource.ID,
		Endpoints:    claims.Endpoints,
		Data:         claims.Data,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if claims.Expirable {
		rc.ExpiresAt = jwt.NewNumericDate(claims.ExpiresAt)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, rc)
	return token.SignedString(c.secret)
}

// DecodeBearer validates signature and expiry, returning ErrExpired
// distinctly from ErrInvalid so callers can surface the TOKEN_EXPIRED
// sentinel (§7).
func (c *Cipher) DecodeBearer(token string) (Claims, error) {
	return c.decodeBearer(token, true)
}

// DecodeBearerIgnoringExpiry parses a bearer token without rejecting an
// expired one, so an expired-token error can be attributed to a resource
// (§4.3 "decode ignoring expiry").
func (c *Cipher) DecodeBearerIgnoringExpiry(token string) (Claims, error) {
	return c.decodeBearer(token, false)
}

func (c *Cipher) decodeBearer(raw string, enforceExpiry bool) (Claims, error) {
	parserOpts := []jwt.ParserOption{}
	if !enforceExpiry {
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	}
	var rc bearerClaims
	token, err := jwt.ParseWithClaims(raw, &rc, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}, parserOpts...)

	if err != nil {
		if enforceExpiry && errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !token.Valid && enforceExpiry {
		return Claims{}, fmt.Errorf("%w", ErrInvalid)
	}

	claims := Claims{
		Resource:  Resource{Kind: ResourceKind(rc.ResourceKind), ID: rc.ResourceID},
		Endpoints: rc.Endpoints,
		Data:      rc.Data,
	}
	if rc.ExpiresAt != nil {
		claims.Expirable = true
		claims.ExpiresAt = rc.ExpiresAt.Time
	}
	return claims, nil
}

// EncodeRefresh signs a Refresh object into a refresh token string.
func (c *Cipher) EncodeRefresh(r Refresh) (string, error) {
	rc := refreshClaims{
		ResourceKind: string(r.Subject.Kind),
		ResourceID:   r.Subject.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(r.ExpiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, rc)
	return token.SignedString(c.secret)
}

// DecodeRefresh validates signature and expiry of a refresh token.
func (c *Cipher) DecodeRefresh(raw string) (Refresh, error) {
	var rc refreshClaims
	token, err := jwt.ParseWithClaims(raw, &rc, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Refresh{}, ErrExpired
		}
		return Refresh{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !token.Valid {
		return Refresh{}, fmt.Errorf("%w", ErrInvalid)
	}
	exp, err := rc.GetExpirationTime()
	if err != nil || exp == nil {
		return Refresh{}, fmt.Errorf("%w: missing expiry", ErrInvalid)
	}
	return Refresh{
		Subject:   Resource{Kind: ResourceKind(rc.ResourceKind), ID: rc.ResourceID},
		ExpiresAt: exp.Time,
	}, nil
}

const saltLength = 16

// HashAPIKey derives a salt and an HKDF-SHA3 hash for an API-key secret. The
// secret itself is never stored; only (salt, hash) are persisted.
func (c *Cipher) HashAPIKey(secret string) (salt, hash string, err error) {
	saltBytes := make([]byte, saltLength)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", fmt.Errorf("cipher: generate salt: %w", err)
	}
	salt = hex.EncodeToString(saltBytes)
	hash = deriveAPIKeyHash(secret, saltBytes)
	return salt, hash, nil
}

// VerifyAPIKey recomputes the hash for the presented secret against the
// stored salt and compares it in constant time (§8 property 7).
func (c *Cipher) VerifyAPIKey(secret, salt, hash string) bool {
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return false
	}
	computed := deriveAPIKeyHash(secret, saltBytes)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

func deriveAPIKeyHash(secret string, salt []byte) string {
	h := hkdf.New(sha3.New256, []byte(secret), salt, []byte("blockjoy-control-plane-api-key"))
	buf := make([]byte, 32)
	_, _ = h.Read(buf)
	return hex.EncodeToString(buf)
}

// legacyHashPrefix marks a stored password hash produced by a retired
// hashing scheme, retained only so existing credentials keep validating.
const legacyHashPrefix = "legacy$"

// HashPassword derives a bcrypt hash for a user password. The salt is
// embedded in the bcrypt output; the returned salt is always empty, kept
// only to match the uniform (salt, hash) contract used by API keys.
func (c *Cipher) HashPassword(password string) (salt, hash string, err error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("cipher: hash password: %w", err)
	}
	return "", string(out), nil
}

// VerifyPassword checks a password against a stored hash, accepting the
// legacy format for backward compatibility with previously issued
// credentials (§4.1).
func (c *Cipher) VerifyPassword(password, salt, hash string) bool {
	if strings.HasPrefix(hash, legacyHashPrefix) {
		legacy := strings.TrimPrefix(hash, legacyHashPrefix)
		return subtle.ConstantTimeCompare([]byte(legacyPasswordHash(password, salt)), []byte(legacy)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func legacyPasswordHash(password, salt string) string {
	h := hkdf.New(sha3.New256, []byte(password), []byte(salt), []byte("blockjoy-legacy-password"))
	buf := make([]byte, 32)
	_, _ = h.Read(buf)
	return hex.EncodeToString(buf)
}

// ResourceFromNode is a convenience constructor used by callers that only
// have a node id in hand (e.g. host-agent bearer tokens scoped to a node).
func ResourceFromNode(id ids.NodeID) Resource { return Resource{Kind: ResourceNode, ID: id.String()} }

// ResourceFromHost mirrors ResourceFromNode for host-scoped tokens.
func ResourceFromHost(id ids.HostID) Resource { return Resource{Kind: ResourceHost, ID: id.String()} }

// ResourceFromUser mirrors ResourceFromNode for user-scoped tokens.
func ResourceFromUser(id ids.UserID) Resource { return Resource{Kind: ResourceUser, ID: id.String()} }

// ResourceFromOrg mirrors ResourceFromNode for service/org-scoped tokens.
func ResourceFromOrg(id ids.OrgID) Resource { return Resource{Kind: ResourceOrg, ID: id.String()} }
