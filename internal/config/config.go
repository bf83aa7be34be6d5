package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const (
	GlobalFileName  = "config.yaml"
	ProfileFileName = "profile.yaml"
	ExcludeFileName = "exclude.txt"
	LogDirName      = "logs"
	LogFileName     = "log"
)

// Config holds the settings for one backup run, after merging the
// profile document over the global one.
type Config struct {
	// Repository is the borg repository path or URL backed up into.
	Repository string `yaml:"repository"`

	// SourcePaths are the directories handed to borg create. When
	// empty, the user's home directory is used.
	SourcePaths []string `yaml:"source-paths"`

	// ArchivePrefix limits pruning to this machine's archives, so it
	// should stay distinct per host when several hosts share a repo.
	ArchivePrefix string `yaml:"archive-prefix" default:"{hostname}-"`

	Compression string `yaml:"compression" default:"auto,zstd"`

	Prune Prune `yaml:"prune"`

	// NetworkWhitelist lists gateway MAC addresses over which backups
	// are allowed to run. An empty list allows nothing.
	NetworkWhitelist []string `yaml:"network-whitelist"`

	// SessionScriptPath points at the script written by
	// `bbackup export-session`. Optional; ~ and $VARs are expanded.
	SessionScriptPath string `yaml:"session-script-path"`

	// SecretAttribute is the secret-service attribute key whose value
	// is the profile name.
	SecretAttribute string `yaml:"secret-attribute" default:"borg-config"`
}

type Prune struct {
	KeepDaily   int `yaml:"keep-daily" default:"7"`
	KeepWeekly  int `yaml:"keep-weekly" default:"4"`
	KeepMonthly int `yaml:"keep-monthly" default:"6"`
}

// Profile is a fully loaded configuration tree for one profile
// directory, immutable for the duration of a run.
type Profile struct {
	// Name is the base name of the profile directory; it doubles as
	// the secret-service attribute value.
	Name      string
	Dir       string
	GlobalDir string
	Config    Config
	Excludes  []string
}

func (p *Profile) LogDir() string {
	return filepath.Join(p.Dir, LogDirName)
}

func (p *Profile) LogFile() string {
	return filepath.Join(p.LogDir(), LogFileName)
}

func (p *Profile) ExcludeFile() string {
	return filepath.Join(p.GlobalDir, ExcludeFileName)
}

// Load reads the global and profile configuration documents for the
// given profile directory and merges them. Profile keys replace global
// keys wholesale; collections are not deep-merged.
func Load(profileDir string) (*Profile, error) {
	profileDir = filepath.Clean(profileDir)
	globalDir := filepath.Dir(profileDir)

	global, err := readDocument(filepath.Join(globalDir, GlobalFileName))
	if err != nil {
		return nil, err
	}
	overlay, err := readDocument(filepath.Join(profileDir, ProfileFileName))
	if err != nil {
		return nil, err
	}
	for k, v := range overlay {
		global[k] = v
	}

	merged, err := yaml.Marshal(global)
	if err != nil {
		return nil, fmt.Errorf("re-encoding merged config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(merged, &cfg); err != nil {
		return nil, fmt.Errorf("decoding merged config: %w", err)
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("applying config defaults: %w", err)
	}
	if cfg.Repository == "" {
		return nil, fmt.Errorf("config is missing the repository setting")
	}

	excludes, err := readExcludes(filepath.Join(globalDir, ExcludeFileName))
	if err != nil {
		return nil, err
	}

	return &Profile{
		Name:      filepath.Base(profileDir),
		Dir:       profileDir,
		GlobalDir: globalDir,
		Config:    cfg,
		Excludes:  excludes,
	}, nil
}

// readDocument parses one YAML document into a key-value map, so that
// the profile/global merge can operate on whole top-level keys.
func readDocument(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config document %s: %w", path, err)
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing config document %s: %w", path, err)
	}
	return doc, nil
}

func readExcludes(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading exclude list %s: %w", path, err)
	}
	var patterns []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, nil
}
