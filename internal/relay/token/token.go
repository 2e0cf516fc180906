// Package token issues and verifies venue bearer tokens. Tokens are
// HS256-signed JWTs carrying the venue id and name, valid for one
// year. Agents present them in the WebSocket attach query string.
package token

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/steeplecast/steeplecast/internal/proto"
)

// Validity is how long an issued venue token remains valid.
const Validity = 365 * 24 * time.Hour

// Claims is the token payload.
type Claims struct {
	VenueID string `json:"venueId"`
	Name    string `json:"name"`
}

// Signer issues and verifies venue tokens with a shared secret.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer. The key must be at least 32 bytes.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("signing key must be at least 32 bytes, got %d", len(key))
	}
	return &Signer{key: key}, nil
}

// Issue signs a token for the venue.
func (s *Signer) Issue(venueID, name string, now time.Time) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: s.key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}

	cl := jwt.Claims{
		Subject:  venueID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(Validity)),
	}
	raw, err := jwt.Signed(sig).Claims(cl).Claims(Claims{VenueID: venueID, Name: name}).Serialize()
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return raw, nil
}

// Verify checks the signature and expiry and returns the claims.
// Failures are unauthenticated errors.
func (s *Signer) Verify(raw string, now time.Time) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, proto.NewError(proto.KindUnauthenticated, "malformed token")
	}

	var std jwt.Claims
	var cl Claims
	if err := tok.Claims(s.key, &std, &cl); err != nil {
		return nil, proto.NewError(proto.KindUnauthenticated, "invalid signature")
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Time: now}, time.Minute); err != nil {
		return nil, proto.NewError(proto.KindUnauthenticated, "token expired")
	}
	if cl.VenueID == "" {
		return nil, proto.NewError(proto.KindUnauthenticated, "token missing venue id")
	}
	return &cl, nil
}
