// Package verify implements the inbound webhook signature verification
// strategies of spec §4.6/§6.1: none, hmac, stripe, and github.
package verify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const stripeMaxSkew = 5 * time.Minute

// Config selects and parameterizes a Verifier.
type Config struct {
	Strategy string // "none" | "hmac" | "stripe" | "github"
	Secret   string // literal value, or "env://VARNAME" to resolve from environment
	Header   string // header name carrying the signature; required for "hmac"
}

// Verifier checks an inbound webhook request's signature against its raw
// body. Verify never trusts req.Body directly; callers must read and
// pass the raw bytes so the check runs against exactly what was hashed.
// ctx is accepted for parity with every other collaborator on this path
// (store/provider lookups a future strategy might need) even though no
// current strategy uses it.
type Verifier interface {
	Verify(ctx context.Context, req *http.Request, body []byte) error
}

// New constructs a Verifier for cfg.Strategy. It resolves env:// secrets
// eagerly so a missing environment variable fails at construction time
// rather than on the first request.
func New(cfg Config) (Verifier, error) {
	switch strings.ToLower(cfg.Strategy) {
	case "none":
		return noneVerifier{}, nil
	case "hmac":
		if cfg.Header == "" {
			return nil, fmt.Errorf("webhook verify: missing signature header name")
		}
		secret, err := resolveSecret(cfg.Secret)
		if err != nil {
			return nil, err
		}
		return hmacVerifier{secret: secret, header: cfg.Header}, nil
	case "stripe":
		secret, err := resolveSecret(cfg.Secret)
		if err != nil {
			return nil, err
		}
		return stripeVerifier{secret: secret}, nil
	case "github":
		secret, err := resolveSecret(cfg.Secret)
		if err != nil {
			return nil, err
		}
		return githubVerifier{secret: secret}, nil
	default:
		return nil, fmt.Errorf("webhook verify: unknown verification strategy %q", cfg.Strategy)
	}
}

func resolveSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("webhook verify: empty secret")
	}
	if name, ok := strings.CutPrefix(secret, "env://"); ok {
		val, ok := os.LookupEnv(name)
		if !ok || val == "" {
			return "", fmt.Errorf("webhook verify: secret env not set: %s", name)
		}
		return val, nil
	}
	return secret, nil
}

type noneVerifier struct{}

func (noneVerifier) Verify(context.Context, *http.Request, []byte) error { return nil }

type hmacVerifier struct {
	secret string
	header string
}

func (v hmacVerifier) Verify(_ context.Context, req *http.Request, body []byte) error {
	sig := req.Header.Get(v.header)
	if sig == "" {
		return fmt.Errorf("webhook verify: missing signature header")
	}
	given, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("webhook verify: invalid signature encoding")
	}
	if !hmac.Equal(given, computeHMAC(v.secret, body)) {
		return fmt.Errorf("webhook verify: signature mismatch")
	}
	return nil
}

type stripeVerifier struct {
	secret string
}

func (v stripeVerifier) Verify(_ context.Context, req *http.Request, body []byte) error {
	header := req.Header.Get("Stripe-Signature")
	var timestamp string
	var v1s []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			v1s = append(v1s, kv[1])
		}
	}
	if timestamp == "" || len(v1s) == 0 {
		return fmt.Errorf("webhook verify: invalid Stripe-Signature format")
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("webhook verify: invalid Stripe-Signature format")
	}
	skew := time.Since(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > stripeMaxSkew {
		return fmt.Errorf("webhook verify: timestamp skew too large")
	}
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)
	for _, candidate := range v1s {
		given, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(given, expected) {
			return nil
		}
	}
	return fmt.Errorf("webhook verify: signature mismatch")
}

type githubVerifier struct {
	secret string
}

func (v githubVerifier) Verify(_ context.Context, req *http.Request, body []byte) error {
	header := req.Header.Get("X-Hub-Signature-256")
	if header == "" {
		return fmt.Errorf("webhook verify: missing signature header")
	}
	value, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return fmt.Errorf("webhook verify: invalid GitHub signature header")
	}
	if value == "" {
		return fmt.Errorf("webhook verify: missing GitHub signature")
	}
	given, err := hex.DecodeString(value)
	if err != nil {
		return fmt.Errorf("webhook verify: invalid GitHub signature encoding")
	}
	if !hmac.Equal(given, computeHMAC(v.secret, body)) {
		return fmt.Errorf("webhook verify: signature mismatch")
	}
	return nil
}

func computeHMAC(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
