package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid persona")

// ValidationResult represents the outcome of a validation pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

// Err returns nil for a valid result and ErrInvalid carrying the messages otherwise.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(r.Errors, "; "))
}

// LoadFile reads a persona definition from a JSON or YAML file.
func LoadFile(path string) (*Persona, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}

	var p Persona
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON persona: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML persona: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported persona format: %s (use .json or .yaml)", ext)
	}

	if p.Version == 0 {
		p.Version = CurrentVersion
	}
	return &p, nil
}

// Validate checks the persona before it is stored.
func Validate(p Persona) ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}

	if strings.TrimSpace(p.Motif) == "" {
		res.Valid = false
		res.Errors = append(res.Errors, "motif is required")
	}

	if !p.Tone.Valid() {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("unknown tone %q", p.Tone))
	}

	if p.Version > CurrentVersion {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("unsupported persona version %d", p.Version))
	}

	for i, s := range p.Samples {
		if s.Message == "" || s.Response == "" {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("sample %d needs both message and response", i+1))
		}
	}

	if p.Philosophy == "" {
		res.Warnings = append(res.Warnings, "no philosophy set; replies will lack a creative stance")
	}
	if len(p.Samples) == 0 {
		res.Warnings = append(res.Warnings, "no sample responses; the model has no example exchanges")
	}

	return res
}
