package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Roles carried in tokens.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// Issuer is stamped on every token; all services share one secret and
// accept each other's tokens.
const Issuer = "cashflow"

const algorithm = "HS256"

type Claims struct {
	Subject  string `json:"sub"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	Issuer   string `json:"iss"`
	IssuedAt int64  `json:"iat"`
	Exp      int64  `json:"exp"`
}

func (c Claims) HasRole(roles ...string) bool {
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}

func (c Claims) validate(now time.Time) error {
	if c.Subject == "" || c.Username == "" || c.Exp == 0 || c.Issuer != Issuer {
		return ErrInvalidToken
	}
	if now.Unix() >= c.Exp {
		return ErrExpiredToken
	}
	return nil
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Manager issues and verifies the HMAC tokens handed out by accounts.
type Manager struct {
	Secret []byte
	Now    func() time.Time
	TTL    time.Duration
}

func NewManager(secret string, ttl time.Duration) Manager {
	return Manager{
		Secret: []byte(secret),
		Now:    func() time.Time { return time.Now().UTC() },
		TTL:    ttl,
	}
}

func (m Manager) Sign(userID, username, role string) (string, error) {
	if role == "" {
		role = RoleUser
	}
	now := m.Now()
	head, err := encodeSegment(header{Alg: algorithm, Typ: "JWT"})
	if err != nil {
		return "", err
	}
	body, err := encodeSegment(Claims{
		Subject:  userID,
		Username: username,
		Role:     role,
		Issuer:   Issuer,
		IssuedAt: now.Unix(),
		Exp:      now.Add(m.TTL).Unix(),
	})
	if err != nil {
		return "", err
	}
	signed := head + "." + body
	return signed + "." + base64.RawURLEncoding.EncodeToString(m.mac(signed)), nil
}

func (m Manager) Parse(token string) (Claims, error) {
	head, body, sig, ok := split(token)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(m.mac(head+"."+body), got) {
		return Claims{}, ErrInvalidToken
	}

	var h header
	if err := decodeSegment(head, &h); err != nil || h.Alg != algorithm {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := decodeSegment(body, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if err := claims.validate(m.Now()); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func (m Manager) mac(signed string) []byte {
	h := hmac.New(sha256.New, m.Secret)
	h.Write([]byte(signed))
	return h.Sum(nil)
}

func split(token string) (head, body, sig string, ok bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func encodeSegment(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeSegment(segment string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authHeader string) string {
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
