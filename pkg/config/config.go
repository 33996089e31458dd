// Package config loads the CLI's repository configuration file, the way
// manifest files are parsed elsewhere in this codebase: a typed struct
// decoded directly from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SnapshotPolicy mirrors policy.Policy's tunables so they can be
// overridden from a config file without importing the policy package
// here (keeping config dependency-free of the engine).
type SnapshotPolicy struct {
	CommitWeight int `yaml:"commitWeight"`
	EditWeight   int `yaml:"editWeight"`
	Threshold    int `yaml:"threshold"`
}

// UserField is a single tagged header block to stamp onto every file a
// partition writes.
type UserField struct {
	Tag   string `yaml:"tag"`
	Value string `yaml:"value"`
}

// Config is the decoded form of a repository's .pippin.yaml.
type Config struct {
	RepoDir        string         `yaml:"repoDir"`
	LogLevel       string         `yaml:"logLevel"`
	LogJSON        bool           `yaml:"logJSON"`
	MetricsAddr    string         `yaml:"metricsAddr"`
	SnapshotPolicy SnapshotPolicy `yaml:"snapshotPolicy"`
	UserFields     []UserField    `yaml:"userFields"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		RepoDir:  ".",
		LogLevel: "info",
		SnapshotPolicy: SnapshotPolicy{
			CommitWeight: 5,
			EditWeight:   1,
			Threshold:    150,
		},
	}
}

// Load reads and decodes a .pippin.yaml file at path. A missing file is
// not an error: Default() is returned instead.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
