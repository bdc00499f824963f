package lifecycle

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gftdcojp/tickstore/internal/config"
	"github.com/gftdcojp/tickstore/internal/tier"
	"github.com/gftdcojp/tickstore/internal/types"
)

// DefaultPolicyName names the fallback policy.
const DefaultPolicyName = "default"

// Policy is a resolved retention policy. Tier ages are ceilings measured
// from the file's last modification.
type Policy struct {
	Name             string
	Classification   types.Classification
	HotAge           time.Duration
	WarmAge          time.Duration
	ColdAge          time.Duration
	PerpetualArchive bool
	MinRetention     time.Duration
	Compression      map[types.Tier]types.Compression
}

// StandardPolicy is used when neither the configuration nor any category
// supplies one.
var StandardPolicy = Policy{
	Name:           DefaultPolicyName,
	Classification: types.ClassStandard,
	HotAge:         7 * tier.Day,
	WarmAge:        90 * tier.Day,
	ColdAge:        365 * tier.Day,
}

// TargetTier maps a file age to the tier the policy wants it in.
func (p Policy) TargetTier(age time.Duration) types.Tier {
	switch {
	case age <= p.HotAge:
		return types.TierHot
	case age <= p.WarmAge:
		return types.TierWarm
	case age <= p.ColdAge:
		return types.TierCold
	case p.PerpetualArchive:
		return types.TierArchive
	}
	return types.TierCold
}

// RetentionAge is the age past which a file may be deleted: the sum of the
// tier ages, or the minimum retention when that is longer.
func (p Policy) RetentionAge() time.Duration {
	return max(p.HotAge+p.WarmAge+p.ColdAge, p.MinRetention)
}

// Deletable reports whether a file of the given age is past retention.
// Critical and perpetually archived data never is.
func (p Policy) Deletable(age time.Duration) bool {
	if p.Classification == types.ClassCritical || p.PerpetualArchive {
		return false
	}
	return age > p.RetentionAge()
}

// CompressionFor returns the policy's codec override for t.
func (p Policy) CompressionFor(t types.Tier) (types.Compression, bool) {
	c, ok := p.Compression[t]
	return c, ok
}

func policyFromConfig(name string, pc config.PolicyConfig, base Policy) (Policy, error) {
	class, err := types.ParseClassification(pc.Classification)
	if err != nil {
		return Policy{}, err
	}
	p := Policy{
		Name:             name,
		Classification:   class,
		HotAge:           base.HotAge,
		WarmAge:          base.WarmAge,
		ColdAge:          base.ColdAge,
		PerpetualArchive: pc.PerpetualArchive,
		MinRetention:     time.Duration(pc.MinRetentionDays) * tier.Day,
		Compression:      make(map[types.Tier]types.Compression, len(pc.Compression)),
	}
	// Unset day counts inherit from base.
	if pc.HotTierDays > 0 {
		p.HotAge = time.Duration(pc.HotTierDays) * tier.Day
	}
	if pc.WarmTierDays > 0 {
		p.WarmAge = time.Duration(pc.WarmTierDays) * tier.Day
	}
	if pc.ColdTierDays > 0 {
		p.ColdAge = time.Duration(pc.ColdTierDays) * tier.Day
	}
	for tn, cn := range pc.Compression {
		t, err := types.ParseTier(tn)
		if err != nil {
			return Policy{}, err
		}
		c, err := types.ParseCompression(cn)
		if err != nil {
			return Policy{}, err
		}
		p.Compression[t] = c
	}
	return p, nil
}

// Resolver maps file paths to policies. Categories are matched against
// path directory segments first, then as substrings of the file name.
type Resolver struct {
	def        Policy
	categories map[string]Policy
	// longest first so "options_trades" beats "trades" in name matching
	order []string
}

// NewResolver builds a resolver from the default policy and the category
// map. Category names match case-insensitively.
func NewResolver(def config.PolicyConfig, categories map[string]config.PolicyConfig) (*Resolver, error) {
	d, err := policyFromConfig(DefaultPolicyName, def, StandardPolicy)
	if err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}
	r := &Resolver{def: d, categories: make(map[string]Policy, len(categories))}
	for name, pc := range categories {
		key := strings.ToLower(name)
		p, err := policyFromConfig(name, pc, d)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		r.categories[key] = p
		r.order = append(r.order, key)
	}
	sort.Slice(r.order, func(i, j int) bool {
		if len(r.order[i]) != len(r.order[j]) {
			return len(r.order[i]) > len(r.order[j])
		}
		return r.order[i] < r.order[j]
	})
	return r, nil
}

// Default returns the fallback policy.
func (r *Resolver) Default() Policy { return r.def }

// Resolve returns the policy for the slash-separated relative path rel.
func (r *Resolver) Resolve(rel string) Policy {
	rel = strings.ToLower(strings.Trim(rel, "/"))
	dir, name := path.Split(rel)
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if p, ok := r.categories[seg]; ok {
			return p
		}
	}
	for _, key := range r.order {
		if strings.Contains(name, key) {
			return r.categories[key]
		}
	}
	return r.def
}
