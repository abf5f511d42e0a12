package train

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sample is one input/output record from a teaching pack.
type Sample struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// TeachingPack is a named bundle of training records plus a held-out split
// used for Fisher estimation and regression checks.
type TeachingPack struct {
	Name    string
	Train   []Sample
	HeldOut []Sample
}

// LoadPack reads a JSONL teaching pack. When a sibling "<name>.test.jsonl"
// exists it becomes the held-out split; otherwise the last tenth of the
// pack is held out (at least one sample when the pack has two or more).
func LoadPack(path string) (*TeachingPack, error) {
	samples, err := readSamples(path)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("teaching pack %s: %w", path, ErrInsufficientData)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pack := &TeachingPack{Name: name}

	testPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".test.jsonl"
	if heldOut, err := readSamples(testPath); err == nil && len(heldOut) > 0 {
		pack.Train = samples
		pack.HeldOut = heldOut
		return pack, nil
	}

	cut := len(samples) - len(samples)/10
	if cut == len(samples) && len(samples) >= 2 {
		cut = len(samples) - 1
	}
	pack.Train = samples[:cut]
	pack.HeldOut = samples[cut:]
	return pack, nil
}

func readSamples(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pack: %w", err)
	}
	defer f.Close()

	samples := make([]Sample, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var s Sample
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, fmt.Errorf("pack %s line %d: %w", path, line, err)
		}
		if strings.TrimSpace(s.Input) == "" {
			continue
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read pack: %w", err)
	}
	return samples, nil
}

// Batch returns the step-th mini-batch of the given size, cycling through
// the training split.
func (p *TeachingPack) Batch(step, size int) []Sample {
	if len(p.Train) == 0 || size <= 0 {
		return nil
	}
	if size > len(p.Train) {
		size = len(p.Train)
	}
	start := (step * size) % len(p.Train)
	batch := make([]Sample, 0, size)
	for i := 0; i < size; i++ {
		batch = append(batch, p.Train[(start+i)%len(p.Train)])
	}
	return batch
}
