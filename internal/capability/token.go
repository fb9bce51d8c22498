// Package capability implements signed capability tokens (C14): mint,
// verify, and attenuate. Grounded on nexus's internal/auth JWTService
// (auth/jwt.go), generalized from an HMAC user-session token to an
// Ed25519-signed capability set per spec.md §4.14/§9 ("Use an Ed25519
// keypair held by the harness").
package capability

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/leolilley/kiwi-mcp-sub008/internal/core"
)

// ErrInvalidToken is returned when signature, audience, or expiry checks
// fail.
var ErrInvalidToken = errors.New("capability: invalid token")

// permissionTable maps a declared permission tag to the capability
// strings it grants (spec.md §4.14's "fixed table"). Keys are
// `<action>:<resource>[:<id>]`, matching how directive metadata declares
// `<read resource="filesystem"/>` / `<execute resource="tool" id="bash"/>`.
var permissionTable = map[string][]core.Capability{
	"read:filesystem":   {"fs.read"},
	"write:filesystem":  {"fs.write"},
	"execute:tool:bash": {"tool.bash"},
	"spawn:thread":      {"spawn.thread"},
}

// wildcardToolPermission is the declared permission tag whose action
// slot carries `*` (spec.md §6: the wildcard is only ever valid inside
// a declared permission tag, never inside a minted capability string).
// PermissionsToCaps expands it into every concrete tool capability the
// fixed table knows about, rather than minting a literal "tool.*" cap.
const wildcardToolPermission = "execute:tool:*"

var wildcardToolCaps = []core.Capability{"tool.bash"}

// PermissionsToCaps resolves a list of permission tags to their
// capability strings via the fixed table, deduplicating.
func PermissionsToCaps(permissions []string) []core.Capability {
	seen := make(map[core.Capability]bool)
	var out []core.Capability
	add := func(c core.Capability) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, p := range permissions {
		if p == wildcardToolPermission {
			for _, c := range wildcardToolCaps {
				add(c)
			}
			continue
		}
		for _, c := range permissionTable[p] {
			add(c)
		}
	}
	return out
}

// Claims is the JWT payload carrying the capability set.
type Claims struct {
	Caps        []core.Capability `json:"caps"`
	ParentID    string            `json:"parent_id,omitempty"`
	DirectiveID string            `json:"directive_id"`
	ThreadID    string            `json:"thread_id"`
	jwt.RegisteredClaims
}

// Signer mints and verifies capability tokens using an Ed25519 keypair
// held by the harness (spec.md §9).
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewSigner wraps an existing Ed25519 keypair.
func NewSigner(private ed25519.PrivateKey, public ed25519.PublicKey) *Signer {
	return &Signer{private: private, public: public}
}

// GenerateSigner creates a fresh Ed25519 keypair for a new harness
// instance.
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("capability: generate keypair: %w", err)
	}
	return &Signer{private: priv, public: pub}, nil
}

// Mint builds a token for caps, signed and bound to aud/exp/directive/thread
// (spec.md §4.14).
func (s *Signer) Mint(caps []core.Capability, aud string, exp time.Time, directiveID, threadID string) (string, error) {
	claims := Claims{
		Caps:        caps,
		DirectiveID: directiveID,
		ThreadID:    threadID,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{aud},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.private)
}

// Verify checks signature, audience, and expiry, returning the decoded
// claims on success.
func (s *Signer) Verify(tokenString, expectedAud string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("capability: unexpected signing method %v", t.Header["alg"])
		}
		return s.public, nil
	}, jwt.WithAudience(expectedAud))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Attenuate mints a child token whose caps are the intersection of the
// parent's caps and the capabilities resolved from childPermissions.
// Intersection is hard: a child can never gain a capability its parent
// lacked (invariant 3, spec.md §8).
func (s *Signer) Attenuate(parent *Claims, childPermissions []string, aud string, exp time.Time, threadID string) (string, error) {
	requested := PermissionsToCaps(childPermissions)
	parentSet := make(map[core.Capability]bool, len(parent.Caps))
	for _, c := range parent.Caps {
		parentSet[c] = true
	}
	var intersected []core.Capability
	for _, c := range requested {
		if parentSet[c] {
			intersected = append(intersected, c)
		}
	}
	return s.Mint(intersected, aud, exp, parent.DirectiveID, threadID)
}

// HasCapability reports whether claims grants cap. Capability strings
// are always concrete (spec.md §6: `*` is only valid inside a declared
// permission tag, never inside a minted capability string), so this is
// a plain exact match; wildcard permission tags are expanded to their
// concrete capabilities at mint time by PermissionsToCaps.
func HasCapability(claims *Claims, cap core.Capability) bool {
	for _, c := range claims.Caps {
		if c == cap {
			return true
		}
	}
	return false
}
