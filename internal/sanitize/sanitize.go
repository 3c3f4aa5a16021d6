// Package sanitize implements the idempotent redaction transform required
// before any error, log, metric, or audit entry leaves the process boundary
// (spec §7). It strips connection strings, bearer/API-key-shaped tokens,
// JWTs, and email local parts from arbitrary text.
package sanitize

import (
	"regexp"
	"slices"
	"strings"
)

var (
	bearerTokenRe = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-\._~\+\/]+=*`)
	kvSecretRe    = regexp.MustCompile(
		`(?i)(api[_-]?key|token|secret|password|pass|pwd|credential|auth|access_token|refresh_token)\s*[:=]\s*["']?[^"'\s]+["']?`,
	)
	genericKeyRe = regexp.MustCompile(
		`\b(sk-[A-Za-z0-9_\-]{16,}|pk-[A-Za-z0-9_\-]{16,}|api_[A-Za-z0-9_\-]{16,}|key-[A-Za-z0-9_\-]{16,})\b`,
	)
	jwtRe         = regexp.MustCompile(`\b(eyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+)\b`)
	awsKeyRe      = regexp.MustCompile(`\b(AKIA[A-Z0-9]{16}|aws_[a-z]+_key_id\s*[:=]\s*[A-Z0-9]{20})\b`)
	githubTokenRe = regexp.MustCompile(`\b(ghp_[A-Za-z0-9]{36}|gho_[A-Za-z0-9]{36}|ghs_[A-Za-z0-9]{36}|ghr_[A-Za-z0-9]{36})\b`)
	slackTokenRe  = regexp.MustCompile(`\b(xox[baprs]-[A-Za-z0-9\-]{10,})\b`)
	connectionRe  = regexp.MustCompile(
		`(?i)((postgres|postgresql|mysql|mongodb(\+srv)?|redis|rediss|amqp|amqps|https?)://)[^@\s]+@[^\s]+`,
	)
	envConnRe = regexp.MustCompile(
		`(?i)\b((?:database_url|connection_string|conn_str|dsn)\s*[:=]\s*)([^"'\s:]+)(\s|$)`,
	)
	emailRe     = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	ipv4LastRe  = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3})\.\d{1,3}\b`)
	homeDirRe   = regexp.MustCompile(`(?i)(/home/|/Users/)[^/\s]+`)
)

const maxLen = 256

// String trims, truncates, and scrubs common secret/PII patterns. It is
// idempotent: String(String(s)) == String(s) for all s, since every
// replacement target is the literal redaction marker itself, which no
// pattern here matches.
func String(s string) string {
	s = strings.TrimSpace(s)
	s = jwtRe.ReplaceAllString(s, "[JWT_REDACTED]")
	s = awsKeyRe.ReplaceAllString(s, "[AWS_KEY_REDACTED]")
	s = githubTokenRe.ReplaceAllString(s, "[GITHUB_TOKEN_REDACTED]")
	s = slackTokenRe.ReplaceAllString(s, "[SLACK_TOKEN_REDACTED]")
	s = connectionRe.ReplaceAllString(s, "$1[REDACTED]")
	s = envConnRe.ReplaceAllString(s, "$1[REDACTED]")
	s = bearerTokenRe.ReplaceAllString(s, "$1[REDACTED]")
	s = kvSecretRe.ReplaceAllString(s, "$1=[REDACTED]")
	s = genericKeyRe.ReplaceAllString(s, "[REDACTED]")
	s = homeDirRe.ReplaceAllString(s, "$1[REDACTED]")
	s = emailRe.ReplaceAllString(s, "[EMAIL_REDACTED]")
	s = ipv4LastRe.ReplaceAllString(s, "$1.[REDACTED]")
	if len(s) > maxLen {
		s = s[:maxLen] + "…"
	}
	return s
}

// Err applies String to err.Error(), returning "" for a nil error.
func Err(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Truncate caps a message to n runes, used for error_message columns
// (spec §4.5f: truncated to 4096 chars).
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var sensitiveSubstrings = []string{
	"password", "secret", "passwd", "pwd", "apikey", "api-key", "api_key",
	"private-key", "public-key", "secret-key", "access-key",
	"session", "credential", "cred",
}

var sensitiveSuffixes = []string{
	"authorization", "token", "cookie", "auth", "key", "bearer", "jwt", "id",
}

func isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	compound := []string{
		"api-key", "api_key", "apikey",
		"private-key", "private_key", "privatekey",
		"public-key", "public_key", "publickey",
		"secret-key", "secret_key", "secretkey",
		"access-key", "access_key", "accesskey",
	}
	for _, p := range compound {
		if strings.Contains(lower, p) {
			return true
		}
	}
	segments := strings.FieldsFunc(lower, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	})
	for _, seg := range segments {
		if slices.Contains(sensitiveSubstrings, seg) {
			return true
		}
	}
	if len(segments) > 0 && slices.Contains(sensitiveSuffixes, segments[len(segments)-1]) {
		return true
	}
	return false
}

// Headers returns a copy of headers with sensitive values redacted.
func Headers(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return headers
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		switch {
		case strings.EqualFold(k, "authorization") || strings.EqualFold(k, "proxy-authorization"):
			out[k] = String(v)
		case isSensitiveHeader(k) || strings.EqualFold(k, "set-cookie") || strings.EqualFold(k, "cookie"):
			out[k] = "[REDACTED]"
		default:
			out[k] = String(v)
		}
	}
	return out
}

// MaskedURL replaces userinfo in a connection-string-shaped URL with
// "***:***", used by Store.Health (spec §4.1). Returns "<invalid-url>" for
// unparsable input.
func MaskedURL(raw string) string {
	if raw == "" {
		return ""
	}
	at := strings.LastIndex(raw, "@")
	schemeEnd := strings.Index(raw, "://")
	if at < 0 || schemeEnd < 0 || at < schemeEnd {
		return raw
	}
	userinfo := raw[schemeEnd+3 : at]
	if userinfo == "" || strings.ContainsAny(userinfo, " \t\n") {
		return "<invalid-url>"
	}
	return raw[:schemeEnd+3] + "***:***" + raw[at:]
}
