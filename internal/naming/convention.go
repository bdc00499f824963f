// Package naming maps data-file locations to the dimensions they encode.
//
// Every convention is a fixed positional mapping anchored at the end of the
// path, so any prefix (tier directory, venue grouping) is ignored:
//
//	by_symbol      .../{symbol}/{eventType}/{date}.ext
//	by_date        .../{date}/{symbol}/{eventType}.ext
//	by_source      .../{source}/{symbol}/{eventType}/{date}.ext
//	by_event_type  .../{eventType}/{symbol}/{date}.ext
//	hierarchical   .../{source}/{eventType}/{symbol}/{date}.ext
//	flat           .../[{source}_]{symbol}_{eventType}_{date}.ext
package naming

import (
	"fmt"
	"path"
	"strings"

	"github.com/gftdcojp/tickstore/internal/types"
)

// Convention selects a path layout.
type Convention int

const (
	BySymbol Convention = iota
	ByDate
	BySource
	ByEventType
	Hierarchical
	Flat
)

type layout struct {
	name  string
	parse func(dirs []string, stem string) types.Dimensions
	build func(d types.Dimensions) (dirs []string, stem string)
}

var layouts = map[Convention]layout{
	BySymbol: {
		name: "by_symbol",
		parse: func(dirs []string, stem string) types.Dimensions {
			return dims(at(dirs, 2), at(dirs, 1), "", stem)
		},
		build: func(d types.Dimensions) ([]string, string) {
			return []string{d.Symbol, d.EventType}, dateString(d)
		},
	},
	ByDate: {
		name: "by_date",
		parse: func(dirs []string, stem string) types.Dimensions {
			return dims(at(dirs, 1), stem, "", at(dirs, 2))
		},
		build: func(d types.Dimensions) ([]string, string) {
			return []string{dateString(d), d.Symbol}, d.EventType
		},
	},
	BySource: {
		name: "by_source",
		parse: func(dirs []string, stem string) types.Dimensions {
			return dims(at(dirs, 2), at(dirs, 1), at(dirs, 3), stem)
		},
		build: func(d types.Dimensions) ([]string, string) {
			return []string{d.Source, d.Symbol, d.EventType}, dateString(d)
		},
	},
	ByEventType: {
		name: "by_event_type",
		parse: func(dirs []string, stem string) types.Dimensions {
			return dims(at(dirs, 1), at(dirs, 2), "", stem)
		},
		build: func(d types.Dimensions) ([]string, string) {
			return []string{d.EventType, d.Symbol}, dateString(d)
		},
	},
	Hierarchical: {
		name: "hierarchical",
		parse: func(dirs []string, stem string) types.Dimensions {
			return dims(at(dirs, 1), at(dirs, 2), at(dirs, 3), stem)
		},
		build: func(d types.Dimensions) ([]string, string) {
			return []string{d.Source, d.EventType, d.Symbol}, dateString(d)
		},
	},
	Flat: {
		name: "flat",
		parse: func(_ []string, stem string) types.Dimensions {
			parts := strings.Split(stem, "_")
			switch len(parts) {
			case 3:
				return dims(parts[0], parts[1], "", parts[2])
			case 4:
				return dims(parts[1], parts[2], parts[0], parts[3])
			}
			return types.Dimensions{}
		},
		build: func(d types.Dimensions) ([]string, string) {
			parts := []string{d.Symbol, d.EventType, dateString(d)}
			if d.Source != "" {
				parts = append([]string{d.Source}, parts...)
			}
			return nil, strings.Join(parts, "_")
		},
	},
}

func (c Convention) String() string {
	if l, ok := layouts[c]; ok {
		return l.name
	}
	return "unknown"
}

// ParseConvention parses a convention name; "" means by_symbol.
func ParseConvention(s string) (Convention, error) {
	if s == "" {
		return BySymbol, nil
	}
	norm := strings.ToLower(strings.ReplaceAll(s, "-", "_"))
	for c, l := range layouts {
		if l.name == norm || strings.ReplaceAll(l.name, "_", "") == norm {
			return c, nil
		}
	}
	return BySymbol, fmt.Errorf("unknown naming convention %q", s)
}

// Parse returns the dimensions encoded in a slash-separated relative path.
// Segments the convention expects but the path lacks are left empty.
func Parse(c Convention, rel string) types.Dimensions {
	l, ok := layouts[c]
	if !ok {
		return types.Dimensions{}
	}
	rel = strings.Trim(strings.ReplaceAll(rel, "\\", "/"), "/")
	segs := strings.Split(rel, "/")
	name := segs[len(segs)-1]
	stem, _, _, _ := SplitName(name)
	if stem == "" {
		stem = name
	}
	return l.parse(segs[:len(segs)-1], stem)
}

// Path builds the relative path a file with the given dimensions has under
// convention c. ext includes the leading dot.
func Path(c Convention, d types.Dimensions, ext string) string {
	l, ok := layouts[c]
	if !ok {
		return ""
	}
	dirs, stem := l.build(d)
	return path.Join(append(dirs, stem+ext)...)
}

// at returns the n-th segment from the end (1-based), or "".
func at(segs []string, n int) string {
	if n > len(segs) {
		return ""
	}
	return segs[len(segs)-n]
}

func dims(symbol, eventType, source, date string) types.Dimensions {
	d := types.Dimensions{Symbol: symbol, EventType: eventType, Source: source}
	if t, ok := types.ParseDate(date); ok {
		d.Date = t
	}
	return d
}

func dateString(d types.Dimensions) string {
	if d.Date.IsZero() {
		return ""
	}
	return d.Date.Format(types.DateLayout)
}
