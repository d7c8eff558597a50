package principal

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedEntry describes one principal in a seed file.
type SeedEntry struct {
	Kind     Kind   `yaml:"kind"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Phone    string `yaml:"phone"`
	Password string `yaml:"password"`
	Verified bool   `yaml:"verified"`
	Approved bool   `yaml:"approved"`
}

type seedFile struct {
	Principals []SeedEntry `yaml:"principals"`
}

// ParseSeed decodes a YAML seed document.
func ParseSeed(data []byte) ([]SeedEntry, error) {
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("principal: parse seed: %w", err)
	}
	for i, e := range sf.Principals {
		if _, err := Describe(e.Kind); err != nil {
			return nil, fmt.Errorf("principal: seed entry %d: %w", i, err)
		}
	}
	return sf.Principals, nil
}

// LoadSeedFile reads and parses a YAML seed file.
func LoadSeedFile(path string) ([]SeedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(data)
}

// Seed creates every entry that does not exist yet and returns how many
// principals were inserted. Entries without email or password are skipped.
func Seed(ctx context.Context, repo Repository, entries []SeedEntry) (int, error) {
	created := 0
	for _, e := range entries {
		if e.Email == "" || e.Password == "" {
			continue
		}
		if _, err := repo.FindByEmail(ctx, e.Kind, e.Email); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return created, err
		}
		hash, err := HashPassword(e.Password)
		if err != nil {
			return created, err
		}
		desc := MustDescribe(e.Kind)
		_, err = repo.Create(ctx, e.Kind, NewPrincipal{
			DisplayID:     desc.NewDisplayID(),
			Name:          e.Name,
			Email:         e.Email,
			Phone:         e.Phone,
			PasswordHash:  hash,
			Verified:      e.Verified,
			AdminVerified: e.Approved,
		})
		if err != nil {
			return created, fmt.Errorf("principal: seed %s %s: %w", e.Kind, e.Email, err)
		}
		created++
	}
	return created, nil
}
