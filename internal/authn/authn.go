// Package authn implements C3: parsing a request's credentials into Claims.
package authn

import (
	"context"
	"errors"
	"strings"
	"time"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/cipher"
)

// APIKeyStore resolves a presented API-key id to its stored salt/hash and
// scope, so the Authenticator can verify the secret without depending on a
// concrete storage engine.
type APIKeyStore interface {
	LookupAPIKey(ctx context.Context, keyID string) (scope cipher.Resource, endpoints []string, salt, hash string, err error)
}

// DefaultAPIKeyExpiry is the synthesized Claims lifetime for an API-key
// derived identity (§4.3 "synthesize Claims ... with configured expiry").
const DefaultAPIKeyExpiry = time.Hour

// RequestMetadata carries the transport-level credential fields the
// Authenticator needs; httpapi populates this from headers/cookies/body.
type RequestMetadata struct {
	BearerToken        string
	APIKeyID           string
	APIKeySecret       string
	RefreshHeaderValue string
	RefreshBodyValue   string
}

// ExpiredJWTError carries the resource a decode-ignoring-expiry recovered,
// so the transport layer can still log which principal's token expired
// (§4.3 "fail with ExpiredJwt(resource)").
type ExpiredJWTError struct {
	Resource cipher.Resource
}

func (e *ExpiredJWTError) Error() string { return "token expired" }

// Authenticator turns transport metadata into Claims.
type Authenticator struct {
	cipher  *cipher.Cipher
	apiKeys APIKeyStore
}

// New builds an Authenticator.
func New(c *cipher.Cipher, apiKeys APIKeyStore) *Authenticator {
	return &Authenticator{cipher: c, apiKeys: apiKeys}
}

// Authenticate parses whichever credential is present in meta into Claims.
// Bearer tokens take precedence over API keys when both are present.
func (a *Authenticator) Authenticate(ctx context.Context, meta RequestMetadata) (cipher.Claims, error) {
	if strings.TrimSpace(meta.BearerToken) != "" {
		return a.authenticateBearer(meta.BearerToken)
	}
	if strings.TrimSpace(meta.APIKeyID) != "" {
		return a.authenticateAPIKey(ctx, meta.APIKeyID, meta.APIKeySecret)
	}
	return cipher.Claims{}, svcerrors.Unauthorized("no credentials presented")
}

func (a *Authenticator) authenticateBearer(token string) (cipher.Claims, error) {
	claims, err := a.cipher.DecodeBearer(token)
	if err != nil {
		if errors.Is(err, cipher.ErrExpired) {
			resourceClaims, recoverErr := a.cipher.DecodeBearerIgnoringExpiry(token)
			if recoverErr == nil {
				return cipher.Claims{}, &ExpiredJWTError{Resource: resourceClaims.Resource}
			}
			return cipher.Claims{}, &ExpiredJWTError{}
		}
		return cipher.Claims{}, svcerrors.Forbidden("Invalid JWT token.")
	}
	return claims, nil
}

func (a *Authenticator) authenticateAPIKey(ctx context.Context, keyID, secret string) (cipher.Claims, error) {
	if a.apiKeys == nil {
		return cipher.Claims{}, svcerrors.Internal("API key store not configured", nil)
	}
	scope, endpoints, salt, hash, err := a.apiKeys.LookupAPIKey(ctx, keyID)
	if err != nil {
		return cipher.Claims{}, svcerrors.Forbidden("Invalid API key.")
	}
	if !a.cipher.VerifyAPIKey(secret, salt, hash) {
		return cipher.Claims{}, svcerrors.Forbidden("Invalid API key.")
	}
	return cipher.Claims{
		Resource:  scope,
		Expirable: true,
		ExpiresAt: time.Now().Add(DefaultAPIKeyExpiry),
		Endpoints: endpoints,
	}, nil
}

// MaybeRefresh decodes a refresh token from meta, trying the header value
// first and falling back to the body value. It returns ok=false without
// error when neither is present, so handlers can treat "no refresh
// supplied" distinctly from "invalid refresh" (§4.3).
func (a *Authenticator) MaybeRefresh(meta RequestMetadata) (refresh cipher.Refresh, ok bool, err error) {
	raw := strings.TrimSpace(meta.RefreshHeaderValue)
	if raw == "" {
		raw = strings.TrimSpace(meta.RefreshBodyValue)
	}
	if raw == "" {
		return cipher.Refresh{}, false, nil
	}
	decoded, err := a.cipher.DecodeRefresh(raw)
	if err != nil {
		if errors.Is(err, cipher.ErrExpired) {
			return cipher.Refresh{}, true, svcerrors.TokenExpired()
		}
		return cipher.Refresh{}, true, svcerrors.Forbidden("Invalid refresh token.")
	}
	return decoded, true, nil
}
