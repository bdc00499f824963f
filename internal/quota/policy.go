// Package quota tracks byte and file usage per scope and decides whether a
// write may proceed.
package quota

import (
	"fmt"
	"strings"

	"github.com/gftdcojp/tickstore/internal/config"
)

// Policy is the enforcement applied when a scope's limit is crossed.
type Policy int

const (
	Warn Policy = iota
	SoftLimit
	HardLimit
	DropOldest
)

var policyNames = map[Policy]string{
	Warn:       "warn",
	SoftLimit:  "soft_limit",
	HardLimit:  "hard_limit",
	DropOldest: "drop_oldest",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePolicy accepts the configuration spelling. Empty means Warn.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return Warn, nil
	}
	norm := strings.ToLower(strings.ReplaceAll(s, "-", "_"))
	for p, name := range policyNames {
		if name == norm || strings.ReplaceAll(name, "_", "") == norm {
			return p, nil
		}
	}
	return Warn, fmt.Errorf("unknown enforcement policy %q", s)
}

// Scope key prefixes.
const (
	ScopeGlobal    = "global"
	scopeSource    = "source:"
	scopeSymbol    = "symbol:"
	scopeEventType = "eventType:"
)

func SourceKey(id string) string    { return scopeSource + id }
func SymbolKey(id string) string    { return scopeSymbol + strings.ToUpper(id) }
func EventTypeKey(id string) string { return scopeEventType + strings.ToLower(id) }

// Limit is one configured ceiling. A zero MaxBytes or MaxFiles is unlimited.
type Limit struct {
	Scope    string
	MaxBytes int64
	MaxFiles int64
	Policy   Policy
}

// Limits is the full quota table.
type Limits struct {
	Global     *Limit
	Sources    map[string]Limit
	Symbols    map[string]Limit
	EventTypes map[string]Limit
}

// LimitsFromConfig builds the quota table and normalises scope keys.
func LimitsFromConfig(cfg config.QuotaConfig) (Limits, error) {
	l := Limits{
		Sources:    make(map[string]Limit),
		Symbols:    make(map[string]Limit),
		EventTypes: make(map[string]Limit),
	}
	conv := func(key string, c config.QuotaLimitConfig) (Limit, error) {
		p, err := ParsePolicy(c.Policy)
		if err != nil {
			return Limit{}, fmt.Errorf("quota %s: %w", key, err)
		}
		return Limit{Scope: key, MaxBytes: int64(c.MaxBytes), MaxFiles: c.MaxFiles, Policy: p}, nil
	}
	if cfg.Global != nil {
		g, err := conv(ScopeGlobal, *cfg.Global)
		if err != nil {
			return l, err
		}
		l.Global = &g
	}
	for id, c := range cfg.Sources {
		lim, err := conv(SourceKey(id), c)
		if err != nil {
			return l, err
		}
		l.Sources[lim.Scope] = lim
	}
	for id, c := range cfg.Symbols {
		lim, err := conv(SymbolKey(id), c)
		if err != nil {
			return l, err
		}
		l.Symbols[lim.Scope] = lim
	}
	for id, c := range cfg.EventTypes {
		lim, err := conv(EventTypeKey(id), c)
		if err != nil {
			return l, err
		}
		l.EventTypes[lim.Scope] = lim
	}
	return l, nil
}

// all returns every configured limit, global first.
func (l Limits) all() []Limit {
	var out []Limit
	if l.Global != nil {
		out = append(out, *l.Global)
	}
	for _, m := range []map[string]Limit{l.Sources, l.Symbols, l.EventTypes} {
		for _, lim := range m {
			out = append(out, lim)
		}
	}
	return out
}

// Decision is the outcome of an admission check.
type Decision struct {
	IsAllowed       bool    `json:"isAllowed"`
	Scope           string  `json:"scope,omitempty"`
	Policy          string  `json:"policy,omitempty"`
	Warning         string  `json:"warning,omitempty"`
	RequiresCleanup bool    `json:"requiresCleanup"`
	UsagePercent    float64 `json:"usagePercent,omitempty"`
	CurrentBytes    int64   `json:"currentBytes,omitempty"`
	LimitBytes      int64   `json:"limitBytes,omitempty"`
}
