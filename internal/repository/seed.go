package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/matt-riley/flagchain/internal/core"
)

// SeedActor is recorded as the author of flags written by the seed loader
// when the file does not name one.
const SeedActor = "seed"

var ErrInvalidSeed = errors.New("invalid seed file")

type seedDocument struct {
	Flags []yaml.Node `yaml:"flags"`
}

// FlagWriter persists seeded flags.
type FlagWriter interface {
	UpsertFlag(ctx context.Context, flag core.FeatureFlag) (core.FeatureFlag, error)
}

// LoadSeedFile reads a YAML seed file from disk.
func LoadSeedFile(path string) ([]core.FeatureFlag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	return ParseSeed(f)
}

// ParseSeed decodes a YAML document of the form `flags: [...]`. Fields a flag
// omits take the same defaults as an auto-provisioned flag.
func ParseSeed(r io.Reader) ([]core.FeatureFlag, error) {
	var doc seedDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}

	flags := make([]core.FeatureFlag, 0, len(doc.Flags))
	seen := make(map[string]struct{}, len(doc.Flags))
	for i := range doc.Flags {
		flag := core.FeatureFlag{
			Status:                  core.StatusDisabled,
			DefaultVariation:        core.VariationOff,
			TenantPercentageEnabled: core.DefaultTenantPercentage,
		}
		if err := doc.Flags[i].Decode(&flag); err != nil {
			return nil, fmt.Errorf("%w: flag %d: %v", ErrInvalidSeed, i, err)
		}
		if err := validateSeedFlag(flag); err != nil {
			return nil, fmt.Errorf("%w: flag %d: %v", ErrInvalidSeed, i, err)
		}
		if _, ok := seen[flag.Key]; ok {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidSeed, flag.Key)
		}
		seen[flag.Key] = struct{}{}

		if flag.Name == "" {
			flag.Name = flag.Key
		}
		if flag.CreatedBy == "" {
			flag.CreatedBy = SeedActor
		}
		if flag.UpdatedBy == "" {
			flag.UpdatedBy = SeedActor
		}
		flags = append(flags, flag)
	}

	return flags, nil
}

// ApplySeed upserts every flag and returns how many were written.
func ApplySeed(ctx context.Context, writer FlagWriter, flags []core.FeatureFlag) (int, error) {
	for i, flag := range flags {
		if _, err := writer.UpsertFlag(ctx, flag); err != nil {
			return i, fmt.Errorf("seed flag %q: %w", flag.Key, err)
		}
	}
	return len(flags), nil
}

func validateSeedFlag(flag core.FeatureFlag) error {
	if strings.TrimSpace(flag.Key) == "" {
		return errors.New("key is required")
	}
	if !flag.Status.Valid() {
		return fmt.Errorf("key %q: unknown status %q", flag.Key, flag.Status)
	}
	if flag.PercentageEnabled < 0 || flag.PercentageEnabled > 100 {
		return fmt.Errorf("key %q: percentage_enabled %d out of range", flag.Key, flag.PercentageEnabled)
	}
	if flag.TenantPercentageEnabled < 0 || flag.TenantPercentageEnabled > 100 {
		return fmt.Errorf("key %q: tenant_percentage_enabled %d out of range", flag.Key, flag.TenantPercentageEnabled)
	}
	if (flag.WindowStartTime == nil) != (flag.WindowEndTime == nil) {
		return fmt.Errorf("key %q: window_start_time and window_end_time must be set together", flag.Key)
	}
	return nil
}
