// Package auth verifies bearer tokens and extracts the calling principal.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Roles understood by the API.
const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleDriver     = "driver"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpired      = errors.New("token expired")
)

// Verifier validates tokens and extracts tenant/role claims.
// Modes: dev (token is "tenant:role[:driver]", no signature) and hmac (HS256 JWT).
type Verifier struct {
	Mode        string
	HMACSecret  []byte
	Issuer      string
	Audience    string
	TenantClaim string
	RoleClaim   string
	DriverClaim string
	Now         func() time.Time
}

type Principal struct {
	Tenant   string
	Role     string
	DriverID string
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanWrite reports whether the principal may create or re-evaluate trips.
func (p Principal) CanWrite() bool { return p.Role == RoleAdmin || p.Role == RoleDispatcher || p.Role == RoleDriver }

// NewVerifier builds a Verifier. An empty mode means dev.
func NewVerifier(mode, secret, issuer, audience string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:        mode,
		HMACSecret:  []byte(secret),
		Issuer:      issuer,
		Audience:    audience,
		TenantClaim: "tenant",
		RoleClaim:   "role",
		DriverClaim: "sub",
		Now:         time.Now,
	}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case "dev":
		return verifyDev(token)
	case "hmac":
		return v.verifyHS256(token)
	}
	return Principal{}, fmt.Errorf("%w: unsupported auth mode %q", ErrInvalidToken, v.Mode)
}

func verifyDev(token string) (Principal, error) {
	parts := strings.Split(token, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Principal{}, fmt.Errorf("%w: expected tenant:role", ErrInvalidToken)
	}
	p := Principal{Tenant: parts[0], Role: strings.ToLower(parts[1])}
	if len(parts) > 2 {
		p.DriverID = parts[2]
	}
	return p, nil
}

func (v *Verifier) verifyHS256(token string) (Principal, error) {
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, fmt.Errorf("%w: malformed JWT", ErrInvalidToken)
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, fmt.Errorf("%w: header: %v", ErrInvalidToken, err)
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, fmt.Errorf("%w: payload: %v", ErrInvalidToken, err)
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, fmt.Errorf("%w: signature: %v", ErrInvalidToken, err)
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil || hdr.Alg != "HS256" {
		return Principal{}, fmt.Errorf("%w: unsupported alg", ErrInvalidToken)
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, fmt.Errorf("%w: bad signature", ErrInvalidToken)
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, fmt.Errorf("%w: claims: %v", ErrInvalidToken, err)
	}
	if err := v.checkRegistered(claims); err != nil {
		return Principal{}, err
	}
	tenant, _ := claims[v.TenantClaim].(string)
	role, _ := claims[v.RoleClaim].(string)
	driver, _ := claims[v.DriverClaim].(string)
	if tenant == "" {
		return Principal{}, fmt.Errorf("%w: missing tenant claim", ErrInvalidToken)
	}
	if role == "" {
		role = RoleDriver
	}
	return Principal{Tenant: tenant, Role: strings.ToLower(role), DriverID: driver}, nil
}

// checkRegistered enforces exp, nbf, iss and aud when present or configured.
func (v *Verifier) checkRegistered(claims map[string]any) error {
	now := v.Now().Unix()
	if exp, ok := claims["exp"].(float64); ok && now >= int64(exp) {
		return ErrExpired
	}
	if nbf, ok := claims["nbf"].(float64); ok && now < int64(nbf) {
		return fmt.Errorf("%w: not yet valid", ErrInvalidToken)
	}
	if v.Issuer != "" {
		if iss, _ := claims["iss"].(string); iss != v.Issuer {
			return fmt.Errorf("%w: issuer", ErrInvalidToken)
		}
	}
	if v.Audience != "" && !hasAudience(claims["aud"], v.Audience) {
		return fmt.Errorf("%w: audience", ErrInvalidToken)
	}
	return nil
}

func hasAudience(claim any, want string) bool {
	switch a := claim.(type) {
	case string:
		return a == want
	case []any:
		for _, x := range a {
			if s, _ := x.(string); s == want {
				return true
			}
		}
	}
	return false
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
