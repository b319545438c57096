// Package config loads the immutable run configuration of a project.
//
// Precedence, lowest first: built-in defaults, sitepipe.yaml, .env, process
// environment. The project descriptor (package.json) is required; its name
// and version only label log output.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"

	"sitepipe/internal/core"
)

const (
	DescriptorFile = "package.json"
	ConfigFile     = "sitepipe.yaml"
	DotEnvFile     = ".env"

	defaultSourceDir     = "src"
	defaultSass          = "sass"
	defaultHost          = "127.0.0.1"
	defaultWatchDebounce = 100 * time.Millisecond
	defaultWatchDedupe   = 50 * time.Millisecond
)

// Project is read from the project descriptor.
type Project struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerMode selects how the dev server produces responses.
type ServerMode string

const (
	ModeStatic ServerMode = "static"
	ModeProxy  ServerMode = "proxy"
)

// ServerConfig is the per-variant server configuration. It is chosen once at
// load time.
type ServerConfig struct {
	Mode ServerMode

	// Proxy is the origin URL in proxy mode.
	Proxy string

	Host   string
	Port   int
	UIPort int

	// LogLabel is "<name> | <version> | <variant>".
	LogLabel string
}

// Addr returns the dev server listen address.
func (s ServerConfig) Addr() string {
	return joinHostPort(s.Host, s.Port)
}

// UIAddr returns the companion UI listen address.
func (s ServerConfig) UIAddr() string {
	return joinHostPort(s.Host, s.UIPort)
}

func joinHostPort(host string, port int) string {
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(port)
}

// Config is built once by Load and read-only afterwards.
type Config struct {
	WorkDir   string
	Project   Project
	SourceDir string
	Catalog   *core.Catalog
	Servers   map[core.Variant]ServerConfig

	// Sass is the Dart Sass executable.
	Sass string
	// ToolEnv is the complete environment handed to external tools.
	ToolEnv map[string]string

	StageConcurrency int
	FileConcurrency  int

	WatchDebounce time.Duration
	WatchDedupe   time.Duration
	WatchIgnore   []string

	Clock clockwork.Clock
}

// Server returns the server configuration of a variant.
func (c *Config) Server(v core.Variant) ServerConfig {
	return c.Servers[v]
}

// Validate fills defaults and rejects bad values.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return core.ConfigErrorf("work dir is required")
	}
	if c.Project.Name == "" {
		return core.ConfigErrorf("%s: name is required", DescriptorFile)
	}
	if c.Catalog == nil {
		return core.ConfigErrorf("catalog is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Sass == "" {
		c.Sass = defaultSass
	}
	if c.ToolEnv == nil {
		c.ToolEnv = map[string]string{}
	}

	if c.StageConcurrency == 0 {
		c.StageConcurrency = len(core.AllCategories())
	}
	if c.StageConcurrency < 0 {
		return core.ConfigErrorf("stage concurrency must be > 0")
	}
	if c.FileConcurrency == 0 {
		c.FileConcurrency = runtime.NumCPU()
	}
	if c.FileConcurrency < 0 {
		return core.ConfigErrorf("file concurrency must be > 0")
	}

	if c.WatchDebounce == 0 {
		c.WatchDebounce = defaultWatchDebounce
	}
	if c.WatchDebounce < 0 {
		return core.ConfigErrorf("watch debounce must be >= 0")
	}
	if c.WatchDedupe == 0 {
		c.WatchDedupe = defaultWatchDedupe
	}
	if c.WatchDedupe < 0 {
		return core.ConfigErrorf("watch dedupe window must be >= 0")
	}

	for _, v := range core.AllVariants() {
		s, ok := c.Servers[v]
		if !ok {
			return core.ConfigErrorf("variant %q has no server configuration", v)
		}
		if err := validatePort(v, "port", s.Port); err != nil {
			return err
		}
		if err := validatePort(v, "ui port", s.UIPort); err != nil {
			return err
		}
		if s.Port != 0 && s.Port == s.UIPort {
			return core.ConfigErrorf("variant %q: port and ui port are both %d", v, s.Port)
		}
		switch s.Mode {
		case ModeStatic:
		case ModeProxy:
			if s.Proxy == "" {
				return core.ConfigErrorf("variant %q: proxy mode needs an origin", v)
			}
		default:
			return core.ConfigErrorf("variant %q: unknown server mode %q", v, s.Mode)
		}
	}
	return nil
}

func validatePort(v core.Variant, what string, port int) error {
	if port < 0 || port > 65535 {
		return core.ConfigErrorf("variant %q: %s %d out of range", v, what, port)
	}
	return nil
}

// Load builds the configuration of the project rooted at workDir.
func Load(workDir string) (*Config, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, core.ConfigErrorf("resolving work dir: %w", err)
	}

	project, err := readDescriptor(abs)
	if err != nil {
		return nil, err
	}

	file := defaultFile()
	if err := readFile(filepath.Join(abs, ConfigFile), &file); err != nil {
		return nil, err
	}
	if err := file.applyOverrides(); err != nil {
		return nil, err
	}

	env, err := readEnv(abs)
	if err != nil {
		return nil, err
	}
	if err := file.applyEnv(env); err != nil {
		return nil, err
	}

	return build(abs, project, file, env)
}

func readDescriptor(dir string) (Project, error) {
	data, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Project{}, core.ConfigErrorf("missing project descriptor %s in %s", DescriptorFile, dir)
		}
		return Project{}, core.ConfigErrorf("reading %s: %w", DescriptorFile, err)
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return Project{}, core.ConfigErrorf("parsing %s: %w", DescriptorFile, err)
	}
	if p.Version == "" {
		p.Version = "0.0.0"
	}
	return p, nil
}

func readFile(path string, into *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return core.ConfigErrorf("reading %s: %w", ConfigFile, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(into); err != nil && !errors.Is(err, io.EOF) {
		return core.ConfigErrorf("parsing %s: %w", ConfigFile, err)
	}
	return nil
}

// readEnv merges .env under the process environment. The process
// environment itself is never modified.
func readEnv(dir string) (map[string]string, error) {
	env := map[string]string{}
	dotenv, err := godotenv.Read(filepath.Join(dir, DotEnvFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, core.ConfigErrorf("reading %s: %w", DotEnvFile, err)
	}
	for k, v := range dotenv {
		env[k] = v
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env, nil
}

func build(workDir string, project Project, file fileConfig, env map[string]string) (*Config, error) {
	roots := make(map[core.Variant]string)
	servers := make(map[core.Variant]ServerConfig)
	for name, vf := range file.Variants {
		v, err := core.ParseVariant(name)
		if err != nil {
			return nil, core.ConfigErrorf("%s: %w", ConfigFile, err)
		}
		roots[v] = vf.Dir
		mode := ModeStatic
		if vf.Proxy != "" {
			mode = ModeProxy
		}
		servers[v] = ServerConfig{
			Mode:     mode,
			Proxy:    vf.Proxy,
			Host:     vf.Host,
			Port:     vf.Port,
			UIPort:   vf.UIPort,
			LogLabel: fmt.Sprintf("%s | %s | %s", project.Name, project.Version, v),
		}
	}

	sourceDir := file.Source
	if sourceDir == "" {
		sourceDir = defaultSourceDir
	}
	entries := core.DefaultCategoryPaths(sourceDir)
	for name, override := range file.Categories {
		cat, err := core.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		entries[cat] = mergeCategory(entries[cat], override)
	}

	catalog, err := core.NewCatalog(roots, entries)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		WorkDir:          workDir,
		Project:          project,
		SourceDir:        sourceDir,
		Catalog:          catalog,
		Servers:          servers,
		Sass:             file.Tools.Sass,
		ToolEnv:          toolEnv(env, file.Tools.Env),
		StageConcurrency: file.Concurrency.Stages,
		FileConcurrency:  file.Concurrency.Files,
		WatchDebounce:    file.Watch.Debounce,
		WatchDedupe:      file.Watch.Dedupe,
		WatchIgnore:      file.Watch.Ignore,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeCategory(base, override core.CategoryPaths) core.CategoryPaths {
	if len(override.Sources) > 0 {
		base.Sources = override.Sources
		base.Exclusions = nil
		base.Partials = nil
	}
	if override.Exclusions != nil {
		base.Exclusions = override.Exclusions
	}
	if override.Partials != nil {
		base.Partials = override.Partials
	}
	if override.Dest != "" {
		base.Dest = override.Dest
	}
	return base
}

// toolEnv picks the variables external tools may see.
func toolEnv(env map[string]string, extra []string) map[string]string {
	names := append([]string{"PATH", "HOME", "TMPDIR", "LANG"}, extra...)
	sort.Strings(names)
	out := make(map[string]string)
	for _, n := range names {
		if v, ok := env[n]; ok {
			out[n] = v
		}
	}
	return out
}
