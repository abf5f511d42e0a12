// Package bench loads JSONL benchmark suites and scores the engine over
// them, producing a flat metrics document suitable for comparison across
// runs.
package bench

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Record is one benchmark case. Prompt, expected and category are
// required; the rest annotate the case for report slicing.
type Record struct {
	Prompt     string   `json:"prompt"`
	Expected   string   `json:"expected"`
	Category   string   `json:"category"`
	Difficulty string   `json:"difficulty,omitempty"`
	Source     string   `json:"source,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

func (r Record) validate() error {
	switch {
	case strings.TrimSpace(r.Prompt) == "":
		return fmt.Errorf("missing prompt")
	case strings.TrimSpace(r.Expected) == "":
		return fmt.Errorf("missing expected")
	case strings.TrimSpace(r.Category) == "":
		return fmt.Errorf("missing category")
	}
	return nil
}

// LoadSuite reads one JSON object per line, skipping blank lines. A
// malformed or incomplete record fails the whole load with its line
// number, so a bad suite never half-runs.
func LoadSuite(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open suite: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("suite %s line %d: %w", path, lineNo, err)
		}
		if err := rec.validate(); err != nil {
			return nil, fmt.Errorf("suite %s line %d: %w", path, lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("suite %s: no records", path)
	}
	return records, nil
}
