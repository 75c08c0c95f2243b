// Package auth verifies the credential presented when a connection opens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Agora/internal/domain"
	"github.com/dkeye/Agora/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Claims is the credential payload issued by the REST backend.
type Claims struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Credential is what the transport collected at connection open.
type Credential struct {
	Token string
	// ClientToken is a stable per-browser id, used to name guests.
	ClientToken string
}

// Result is a verified identity. Guest is set when the anonymous fallback
// produced the account.
type Result struct {
	Account *domain.Account
	Guest   bool
}

type Config struct {
	Secret string
	// AllowAnonymous downgrades soft verification failures to a guest
	// identity instead of refusing the connection.
	AllowAnonymous bool
	Leeway         time.Duration
}

type Authenticator struct {
	secret         []byte
	dir            store.Directory
	allowAnonymous bool
	parser         *jwt.Parser
}

func New(cfg Config, dir store.Directory) *Authenticator {
	return &Authenticator{
		secret:         []byte(cfg.Secret),
		dir:            dir,
		allowAnonymous: cfg.AllowAnonymous,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cfg.Leeway),
		),
	}
}

// Subprotocol is the websocket subprotocol the server agrees to. Browsers
// that cannot set headers offer it together with SubprotocolTokenPrefix+jwt.
const (
	Subprotocol            = "agora"
	SubprotocolTokenPrefix = "bearer."
)

// TokenFromSubprotocols returns the token carried in an offered subprotocol.
func TokenFromSubprotocols(protocols []string) string {
	for _, p := range protocols {
		if tok, ok := strings.CutPrefix(p, SubprotocolTokenPrefix); ok && tok != "" {
			return tok
		}
	}
	return ""
}

// PickToken returns the first non-empty source in priority order:
// handshake auth field, Authorization header, query parameter.
func PickToken(authField, header, query string) string {
	if t := strings.TrimSpace(authField); t != "" {
		return t
	}
	if t := strings.TrimSpace(header); t != "" {
		if after, ok := strings.CutPrefix(t, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
		return t
	}
	return strings.TrimSpace(query)
}

// Authenticate verifies cred. Identity errors (unknown or suspended account)
// always refuse; other verification failures fall back to a guest when the
// fallback is enabled. A missing credential is always refused.
func (a *Authenticator) Authenticate(ctx context.Context, cred Credential) (*Result, error) {
	if cred.Token == "" {
		return nil, domain.Errorf(domain.KindAuthentication, "missing credential")
	}
	acc, err := a.verify(ctx, cred.Token)
	if err == nil {
		return &Result{Account: acc}, nil
	}
	if domain.KindOf(err) == domain.KindIdentity || !a.allowAnonymous {
		return nil, err
	}
	guest := domain.NewGuest(cred.ClientToken)
	log.Warn().Err(err).Str("module", "auth").Str("identity", string(guest.ID)).Msg("credential rejected, continuing as guest")
	return &Result{Account: guest, Guest: true}, nil
}

func (a *Authenticator) verify(ctx context.Context, raw string) (*domain.Account, error) {
	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, domain.Errorf(domain.KindAuthentication, "malformed credential")
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, domain.Errorf(domain.KindAuthentication, "expired credential")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, domain.Errorf(domain.KindAuthentication, "invalid credential signature")
	default:
		return nil, domain.Errorf(domain.KindAuthentication, "invalid credential: %v", err)
	}

	if claims.Subject == "" || len(claims.Subject) > domain.MaxIdentityLen {
		return nil, domain.Errorf(domain.KindAuthentication, "malformed credential: bad subject")
	}
	kind, err := domain.ParseIdentityKind(claims.Kind)
	if err != nil {
		return nil, domain.Errorf(domain.KindAuthentication, "malformed credential: %v", err)
	}

	id := domain.IdentityID(claims.Subject)
	acc, err := a.dir.Lookup(ctx, kind, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.Errorf(domain.KindIdentity, "identity %s not found", id)
	}
	if err != nil {
		return nil, domain.Errorf(domain.KindAuthentication, "identity lookup failed: %v", err)
	}
	if acc.Suspended {
		return nil, domain.Errorf(domain.KindIdentity, "identity %s is suspended", id)
	}
	if acc.DisplayName == "" {
		acc.DisplayName = claims.Name
	}
	if name, err := domain.NormalizeDisplayName(acc.DisplayName); err == nil {
		acc.DisplayName = name
	} else {
		acc.DisplayName = string(id)
	}
	return acc, nil
}

// Issue signs a credential for acc valid for ttl.
func (a *Authenticator) Issue(acc *domain.Account, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Kind: acc.Kind.String(),
		Name: acc.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(acc.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}
