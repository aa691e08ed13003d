package jurisdiction

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/currency"
)

var ErrUnknownDefaultCode = errors.New("jurisdiction: unknown default code")

// registry holds the supported jurisdictions keyed by calling-code prefix.
// BR records live in the managed document store; PT and ES share the
// relational store.
var registry = []Jurisdiction{
	{Code: CodeBR, CallingCode: "+55", Currency: "BRL", Backend: BackendDocument},
	{Code: CodePT, CallingCode: "+351", Currency: "EUR", Backend: BackendRelational},
	{Code: CodeES, CallingCode: "+34", Currency: "EUR", Backend: BackendRelational},
}

// Resolver maps phone numbers to jurisdictions. Resolution is deterministic
// and side-effect free apart from a warning log on fallback; it must run
// before every store access so the correct backend is chosen.
type Resolver struct {
	byCode    map[Code]Jurisdiction
	fallback  Jurisdiction
	overrides map[string]Code // normalized phone -> forced code
	log       *slog.Logger
}

// NewResolver builds a Resolver from configuration. It fails fast when the
// configured default code is not in the registry or a registered currency is
// not a valid ISO 4217 unit.
func NewResolver(cfg Config, log *slog.Logger) (*Resolver, error) {
	if log == nil {
		log = slog.Default()
	}

	byCode := make(map[Code]Jurisdiction, len(registry))
	for _, j := range registry {
		if _, err := currency.ParseISO(j.Currency); err != nil {
			return nil, fmt.Errorf("jurisdiction %s: invalid currency %q: %w", j.Code, j.Currency, err)
		}
		byCode[j.Code] = j
	}

	fallback, ok := byCode[Code(strings.ToUpper(cfg.DefaultCode))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefaultCode, cfg.DefaultCode)
	}

	overrides := make(map[string]Code, len(cfg.Overrides))
	for phone, code := range cfg.Overrides {
		c := Code(strings.ToUpper(code))
		if _, ok := byCode[c]; !ok {
			return nil, fmt.Errorf("jurisdiction override %s: unknown code %q", phone, code)
		}
		overrides[Normalize(phone)] = c
	}

	return &Resolver{
		byCode:    byCode,
		fallback:  fallback,
		overrides: overrides,
		log:       log,
	}, nil
}

// Resolve maps a phone number to its governing jurisdiction. The override
// list takes precedence over prefix matching; unrecognized prefixes fall back
// to the configured default with a warning. Resolve never fails.
func (r *Resolver) Resolve(phone string) Jurisdiction {
	normalized := Normalize(phone)

	if code, ok := r.overrides[normalized]; ok {
		return r.byCode[code]
	}

	// Longest prefix wins so +55 never shadows a future +551 entry.
	var match Jurisdiction
	matched := false
	for _, j := range registry {
		if strings.HasPrefix(normalized, j.CallingCode) {
			if !matched || len(j.CallingCode) > len(match.CallingCode) {
				match = j
				matched = true
			}
		}
	}
	if matched {
		return match
	}

	r.log.Warn("unrecognized calling code, using default jurisdiction",
		slog.String("phone_prefix", prefixOf(normalized)),
		slog.String("default", string(r.fallback.Code)))
	return r.fallback
}

// Get returns the jurisdiction registered under a code.
func (r *Resolver) Get(code Code) (Jurisdiction, bool) {
	j, ok := r.byCode[code]
	return j, ok
}

// Normalize strips formatting characters and guarantees a leading plus so
// prefix matching works on operator-entered and channel-delivered numbers
// alike.
func Normalize(phone string) string {
	var b strings.Builder
	b.Grow(len(phone) + 1)
	for _, ch := range phone {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}

// prefixOf truncates a number for logging without exposing the full MSISDN.
func prefixOf(phone string) string {
	const max = 4
	if len(phone) <= max {
		return phone
	}
	return phone[:max]
}
