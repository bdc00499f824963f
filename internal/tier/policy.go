package tier

import (
	"fmt"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gftdcojp/tickstore/internal/config"
	"github.com/gftdcojp/tickstore/internal/types"
)

// Day is the unit tier and policy thresholds are expressed in.
const Day = 24 * time.Hour

// Unbounded is the age ceiling of a tier configured with max_age_days 0.
const Unbounded = time.Duration(math.MaxInt64)

// Definition is one configured tier.
type Definition struct {
	Tier        types.Tier
	Path        string // slash-separated, relative to the storage root
	MaxAge      time.Duration
	Compression types.Compression
	Format      types.Format
	Blob        *config.BlobTierConfig
}

// Remote reports whether the tier lives in object storage.
func (d Definition) Remote() bool {
	return d.Blob != nil && d.Blob.Enabled
}

// Table is the tiering table. Tier order and age-ceiling order agree.
type Table struct {
	defs           []Definition
	byTier         map[types.Tier]Definition
	tieringEnabled bool
}

// NewTable builds the tiering table from configuration.
func NewTable(cfgs []config.TierConfig, tieringEnabled bool) (*Table, error) {
	t := &Table{
		byTier:         make(map[types.Tier]Definition),
		tieringEnabled: tieringEnabled,
	}
	for _, tc := range cfgs {
		tr, err := types.ParseTier(tc.Name)
		if err != nil {
			return nil, err
		}
		comp, err := types.ParseCompression(tc.Compression)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", tc.Name, err)
		}
		format, err := types.ParseFormat(tc.Format)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", tc.Name, err)
		}
		p := strings.Trim(path.Clean("/"+strings.ReplaceAll(tc.Path, "\\", "/")), "/")
		if p == "" {
			p = tr.String()
		}
		maxAge := time.Duration(tc.MaxAgeDays) * Day
		if tc.MaxAgeDays == 0 {
			maxAge = Unbounded
		}
		d := Definition{
			Tier:        tr,
			Path:        p,
			MaxAge:      maxAge,
			Compression: comp,
			Format:      format,
			Blob:        tc.Blob,
		}
		t.defs = append(t.defs, d)
		t.byTier[tr] = d
	}
	sort.Slice(t.defs, func(i, j int) bool { return t.defs[i].Tier < t.defs[j].Tier })
	for i := 1; i < len(t.defs); i++ {
		if t.defs[i].MaxAge < t.defs[i-1].MaxAge {
			return nil, fmt.Errorf("tier %s ages out before %s", t.defs[i].Tier, t.defs[i-1].Tier)
		}
	}
	return t, nil
}

// Ordered returns the definitions by ascending age ceiling.
func (t *Table) Ordered() []Definition {
	return append([]Definition(nil), t.defs...)
}

// Lookup returns the definition of tr.
func (t *Table) Lookup(tr types.Tier) (Definition, bool) {
	d, ok := t.byTier[tr]
	return d, ok
}

// TieringEnabled reports whether age-based tiering is active.
func (t *Table) TieringEnabled() bool { return t.tieringEnabled }

// DetermineTargetTier maps a file age to the first tier, in ascending
// order, whose age ceiling it does not exceed. Files older than every
// ceiling go to Archive; with tiering disabled everything stays Hot.
func (t *Table) DetermineTargetTier(age time.Duration) types.Tier {
	if !t.tieringEnabled {
		return types.TierHot
	}
	for _, d := range t.defs {
		if age <= d.MaxAge {
			return d.Tier
		}
	}
	return types.TierArchive
}

// FromPath resolves the tier a catalog path lives in and the path inside
// that tier. Configured tier directories are matched first (longest wins);
// otherwise the first segment naming a tier decides, and files outside any
// tier directory are Hot.
func (t *Table) FromPath(rel string) (types.Tier, string) {
	rel = strings.Trim(strings.ReplaceAll(rel, "\\", "/"), "/")
	best := -1
	for i, d := range t.defs {
		if strings.HasPrefix(rel, d.Path+"/") && (best < 0 || len(d.Path) > len(t.defs[best].Path)) {
			best = i
		}
	}
	if best >= 0 {
		d := t.defs[best]
		return d.Tier, rel[len(d.Path)+1:]
	}
	first, rest, found := strings.Cut(rel, "/")
	if found {
		if tr, err := types.ParseTier(first); err == nil {
			return tr, rest
		}
	}
	return types.TierHot, rel
}

// CatalogPath returns the catalog path of inner inside tier tr.
func (t *Table) CatalogPath(tr types.Tier, inner string) string {
	if d, ok := t.byTier[tr]; ok {
		return path.Join(d.Path, inner)
	}
	return path.Join(tr.String(), inner)
}
