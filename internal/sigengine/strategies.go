package sigengine

import (
	"encoding/json"
	"fmt"
	"os"

	"signal-systemv1/internal/strategy"
)

// LoadStrategies reads a JSON array of strategy configs from path.
// Entries without an id or symbols are skipped.
func LoadStrategies(path string) ([]strategy.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategies read: %w", err)
	}

	var raw []strategy.Config
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("strategies parse: %w", err)
	}

	out := make([]strategy.Config, 0, len(raw))
	for _, sc := range raw {
		if sc.ID == "" || len(sc.Symbols) == 0 {
			continue
		}
		out = append(out, sc)
	}
	return out, nil
}
