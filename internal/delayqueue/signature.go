package delayqueue

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SignatureHeader carries the HS256 JWT that authenticates a callback.
const SignatureHeader = "Upstash-Signature"

const DefaultIssuer = "Upstash"

var ErrInvalidSignature = errors.New("invalid callback signature")

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Signer produces callback signatures. The local job worker uses it so its
// callbacks are indistinguishable from the hosted service's.
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

func NewSigner(key, issuer string) *Signer {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &Signer{key: []byte(key), issuer: issuer, ttl: 5 * time.Minute}
}

func (s *Signer) Sign(url string, body []byte, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":  s.issuer,
		"sub":  url,
		"body": bodyHash(body),
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
		"jti":  uuid.NewString(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.key)
}

// Verifier checks callback signatures against the current and next signing
// keys so keys can be rotated without dropping callbacks.
type Verifier struct {
	keys   [][]byte
	issuer string
	leeway time.Duration
}

func NewVerifier(issuer string, keys ...string) *Verifier {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	v := &Verifier{issuer: issuer, leeway: 30 * time.Second}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			v.keys = append(v.keys, []byte(k))
		}
	}
	return v
}

// Verify validates token for body. url is compared with the signed subject
// when non-empty.
func (v *Verifier) Verify(token, url string, body []byte) error {
	if token == "" || len(v.keys) == 0 {
		return ErrInvalidSignature
	}

	var lastErr error
	for _, key := range v.keys {
		if err := v.verifyWith(key, token, url, body); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func (v *Verifier) verifyWith(key []byte, token, url string, body []byte) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if url != "" {
		opts = append(opts, jwt.WithSubject(url))
	}

	t, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return key, nil }, opts...)
	if err != nil {
		return err
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("invalid claims")
	}

	got, _ := claims["body"].(string)
	if strings.TrimRight(got, "=") != bodyHash(body) {
		return errors.New("body hash mismatch")
	}
	return nil
}
