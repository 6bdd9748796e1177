package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// RateLimitStore counts hits per scope in fixed windows. pkg/redis.Client
// satisfies it.
type RateLimitStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitSubject selects what a rule counts against.
type RateLimitSubject string

const (
	// LimitByIP counts per client address.
	LimitByIP RateLimitSubject = "ip"
	// LimitByEmail counts per hashed "email" field of a JSON body.
	LimitByEmail RateLimitSubject = "email"
	// LimitByUser counts per authenticated user; it must run after Auth.
	LimitByUser RateLimitSubject = "user"
)

// maxRateLimitPeek bounds how much of a body is buffered to find the email.
const maxRateLimitPeek = 64 << 10

type RateLimitRule struct {
	Subject RateLimitSubject
	Limit   int
}

// RateLimitPolicy is a named fixed window shared by its rules.
type RateLimitPolicy struct {
	Name   string
	Window time.Duration
	Rules  []RateLimitRule
}

func (p RateLimitPolicy) active() []RateLimitRule {
	if p.Window <= 0 {
		return nil
	}
	rules := make([]RateLimitRule, 0, len(p.Rules))
	for _, rule := range p.Rules {
		if rule.Limit > 0 {
			rules = append(rules, rule)
		}
	}
	return rules
}

func (p RateLimitPolicy) scope(subject RateLimitSubject, value string) string {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		name = "default"
	}
	return name + ":" + string(subject) + ":" + value
}

// LoginRateLimit throttles /auth/login by client address and by email.
func LoginRateLimit(window time.Duration, ipLimit, emailLimit int) RateLimitPolicy {
	return RateLimitPolicy{Name: "login", Window: window, Rules: []RateLimitRule{
		{Subject: LimitByIP, Limit: ipLimit},
		{Subject: LimitByEmail, Limit: emailLimit},
	}}
}

// RegisterRateLimit throttles account creation by client address and by email.
func RegisterRateLimit(window time.Duration, ipLimit, emailLimit int) RateLimitPolicy {
	return RateLimitPolicy{Name: "register", Window: window, Rules: []RateLimitRule{
		{Subject: LimitByIP, Limit: ipLimit},
		{Subject: LimitByEmail, Limit: emailLimit},
	}}
}

// CheckoutRateLimit caps order placement attempts per user.
func CheckoutRateLimit(window time.Duration, userLimit int) RateLimitPolicy {
	return RateLimitPolicy{Name: "checkout", Window: window, Rules: []RateLimitRule{
		{Subject: LimitByUser, Limit: userLimit},
	}}
}

// RateLimit rejects requests over any of the policy's rules with 429 and a
// Retry-After header. Rules whose subject is missing from the request are
// skipped; a disabled policy or nil store passes everything through.
func RateLimit(policy RateLimitPolicy, store RateLimitStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		rules := policy.active()
		if len(rules) == 0 || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			for _, rule := range rules {
				value, err := subjectValue(r, rule.Subject)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
					return
				}
				if value == "" {
					continue
				}
				allowed, count, err := store.FixedWindowAllow(ctx, policy.scope(rule.Subject, value), int64(rule.Limit), policy.Window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if !allowed {
					respondRateLimited(ctx, logg, w, policy, rule, value, count)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// subjectValue returns the counter key for subject. The email is hashed so
// addresses never reach Redis or the logs.
func subjectValue(r *http.Request, subject RateLimitSubject) (string, error) {
	switch subject {
	case LimitByIP:
		return clientIP(r), nil
	case LimitByUser:
		return UserIDFromContext(r.Context()), nil
	case LimitByEmail:
		if r.Body == nil {
			return "", nil
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRateLimitPeek))
		if err != nil {
			return "", err
		}
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
		email := strings.ToLower(strings.TrimSpace(extractEmail(body)))
		if email == "" {
			return "", nil
		}
		sum := sha256.Sum256([]byte(email))
		return hex.EncodeToString(sum[:]), nil
	}
	return "", nil
}

func respondRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy RateLimitPolicy, rule RateLimitRule, value string, count int64) {
	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"policy":         policy.Name,
			"subject":        string(rule.Subject),
			"key":            value,
			"attempts":       count,
			"limit":          rule.Limit,
			"window_seconds": int(policy.Window.Seconds()),
		})
		logg.Warn(logCtx, "rate_limit.blocked")
	}
	retry := int(policy.Window.Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

func clientIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func extractEmail(payload []byte) string {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return body.Email
}
