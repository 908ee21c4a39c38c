package sigengine

import (
	"os"
	"path/filepath"
	"testing"

	"signal-systemv1/internal/model"
)

func writeStrategiesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadStrategies(t *testing.T) {
	path := writeStrategiesFile(t, `[
		{
			"id": "momentum-long",
			"symbols": ["BTCUSDT", "ETHUSDT"],
			"rules": {
				"signal_detect": [
					{"variant_id": "v-twpa-fast", "op": ">", "threshold": 100.0, "weight": 1.0}
				],
				"entry": [
					{"variant_id": "v-velocity", "op": ">", "threshold": 0.0, "weight": 2.0}
				]
			},
			"thresholds": {"signal_detect": 0.8}
		},
		{"id": "", "symbols": ["BTCUSDT"]},
		{"id": "no-symbols"}
	]`)

	configs, err := LoadStrategies(path)
	if err != nil {
		t.Fatalf("LoadStrategies: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected 1 valid config, got %d", len(configs))
	}

	sc := configs[0]
	if sc.ID != "momentum-long" {
		t.Errorf("id: got %q", sc.ID)
	}
	if len(sc.Symbols) != 2 {
		t.Errorf("symbols: got %v", sc.Symbols)
	}
	rules := sc.Rules[model.SectionSignalDetect]
	if len(rules) != 1 || rules[0].VariantID != "v-twpa-fast" || rules[0].Op != model.OpGT {
		t.Errorf("signal_detect rules: got %+v", rules)
	}
	if got := sc.Thresholds[model.SectionSignalDetect]; got != 0.8 {
		t.Errorf("threshold: got %v", got)
	}
}

func TestLoadStrategies_BadJSON(t *testing.T) {
	path := writeStrategiesFile(t, `{"not": "an array"}`)
	if _, err := LoadStrategies(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadStrategies_MissingFile(t *testing.T) {
	if _, err := LoadStrategies(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected read error")
	}
}
