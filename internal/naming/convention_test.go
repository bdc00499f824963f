package naming

import (
	"testing"
	"time"

	"github.com/gftdcojp/tickstore/internal/types"
)

func TestParseConventions(t *testing.T) {
	date := time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		conv Convention
		path string
		want types.Dimensions
	}{
		{BySymbol, "hot/AAPL/trades/2024-01-19.jsonl", types.Dimensions{Symbol: "AAPL", EventType: "trades", Date: date}},
		{ByDate, "2024-01-19/AAPL/quotes.jsonl.gz", types.Dimensions{Symbol: "AAPL", EventType: "quotes", Date: date}},
		{BySource, "alpaca/SPY/bars/20240119.jsonl.zst", types.Dimensions{Symbol: "SPY", EventType: "bars", Source: "alpaca", Date: date}},
		{ByEventType, "trades/MSFT/2024-01-19.parquet", types.Dimensions{Symbol: "MSFT", EventType: "trades", Date: date}},
		{Hierarchical, "warm/polygon/quotes/QQQ/2024-01-19.jsonl.lz4", types.Dimensions{Symbol: "QQQ", EventType: "quotes", Source: "polygon", Date: date}},
		{Flat, "AAPL_trades_2024-01-19.jsonl", types.Dimensions{Symbol: "AAPL", EventType: "trades", Date: date}},
		{Flat, "cold/iex_AAPL_trades_2024-01-19.jsonl.br", types.Dimensions{Symbol: "AAPL", EventType: "trades", Source: "iex", Date: date}},
	}
	for _, tt := range tests {
		got := Parse(tt.conv, tt.path)
		if got.Symbol != tt.want.Symbol || got.EventType != tt.want.EventType || got.Source != tt.want.Source || !got.Date.Equal(tt.want.Date) {
			t.Errorf("Parse(%s, %q) = %+v, want %+v", tt.conv, tt.path, got, tt.want)
		}
	}
}

func TestParseShortPath(t *testing.T) {
	got := Parse(BySource, "trades/2024-01-19.jsonl")
	if got.Source != "" || got.Symbol != "" {
		t.Errorf("expected missing segments to stay empty, got %+v", got)
	}
	if got.EventType != "trades" {
		t.Errorf("EventType = %q", got.EventType)
	}
}

func TestParseNonDateStem(t *testing.T) {
	got := Parse(BySymbol, "AAPL/trades/latest.jsonl")
	if !got.Date.IsZero() {
		t.Errorf("expected zero date, got %v", got.Date)
	}
}

func TestPathInvertsParse(t *testing.T) {
	d := types.Dimensions{
		Symbol:    "SPY",
		EventType: "quotes",
		Source:    "alpaca",
		Date:      time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
	}
	for c := range layouts {
		rel := Path(c, d, ".jsonl.gz")
		got := Parse(c, rel)
		if got.Symbol != d.Symbol || got.EventType != d.EventType || !got.Date.Equal(d.Date) {
			t.Errorf("%s: Parse(Path()) = %+v from %q", c, got, rel)
		}
		if (c == BySource || c == Hierarchical || c == Flat) && got.Source != d.Source {
			t.Errorf("%s: source lost in %q", c, rel)
		}
	}
}

func TestParseConvention(t *testing.T) {
	for c, l := range layouts {
		got, err := ParseConvention(l.name)
		if err != nil || got != c {
			t.Errorf("ParseConvention(%q) = %v, %v", l.name, got, err)
		}
	}
	if c, err := ParseConvention("BySymbol"); err != nil || c != BySymbol {
		t.Errorf("ParseConvention(BySymbol) = %v, %v", c, err)
	}
	if _, err := ParseConvention("random"); err == nil {
		t.Error("expected error for unknown convention")
	}
}
