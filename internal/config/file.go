package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"sitepipe/internal/core"
)

// fileConfig mirrors sitepipe.yaml.
type fileConfig struct {
	Source     string                        `yaml:"source"`
	Overrides  map[string]variantOverride    `yaml:"variants"`
	Categories map[string]core.CategoryPaths `yaml:"categories"`

	// Variants holds the defaults with Overrides and the environment
	// applied on top.
	Variants map[string]variantFile `yaml:"-"`

	Tools struct {
		Sass string   `yaml:"sass"`
		Env  []string `yaml:"env"`
	} `yaml:"tools"`

	Concurrency struct {
		Stages int `yaml:"stages"`
		Files  int `yaml:"files"`
	} `yaml:"concurrency"`

	Watch struct {
		Debounce time.Duration `yaml:"debounce"`
		Dedupe   time.Duration `yaml:"dedupe"`
		Ignore   []string      `yaml:"ignore"`
	} `yaml:"watch"`
}

type variantFile struct {
	Dir    string
	Proxy  string
	Host   string
	Port   int
	UIPort int
}

// variantOverride uses pointers for ports so that an explicit 0 (any free
// port) is distinguishable from an absent key.
type variantOverride struct {
	Dir    string `yaml:"dir"`
	Proxy  string `yaml:"proxy"`
	Host   string `yaml:"host"`
	Port   *int   `yaml:"port"`
	UIPort *int   `yaml:"ui_port"`
}

func (f *fileConfig) applyOverrides() error {
	for name, o := range f.Overrides {
		v, err := core.ParseVariant(name)
		if err != nil {
			return core.ConfigErrorf("%s: %w", ConfigFile, err)
		}
		vf := f.variant(v)
		if o.Dir != "" {
			vf.Dir = o.Dir
		}
		if o.Proxy != "" {
			vf.Proxy = o.Proxy
		}
		if o.Host != "" {
			vf.Host = o.Host
		}
		if o.Port != nil {
			vf.Port = *o.Port
		}
		if o.UIPort != nil {
			vf.UIPort = *o.UIPort
		}
		f.Variants[string(v)] = vf
	}
	return nil
}

func defaultFile() fileConfig {
	f := fileConfig{
		Source: defaultSourceDir,
		Variants: map[string]variantFile{
			string(core.VariantPreview): {Dir: "preview", Host: defaultHost, Port: 8000, UIPort: 8001},
			string(core.VariantBuild):   {Dir: "build", Host: defaultHost, Port: 9000, UIPort: 9001},
		},
	}
	f.Tools.Sass = defaultSass
	f.Watch.Ignore = []string{"**/node_modules/**", "**/.git/**"}
	return f
}

// envOverrides maps environment variables onto the file configuration.
var envOverrides = []struct {
	name  string
	apply func(f *fileConfig, value string) error
}{
	{"SITEPIPE_PREVIEW_PROXY", proxySetter(core.VariantPreview)},
	{"SITEPIPE_BUILD_PROXY", proxySetter(core.VariantBuild)},
	{"SITEPIPE_PREVIEW_PORT", portSetter(core.VariantPreview, false)},
	{"SITEPIPE_BUILD_PORT", portSetter(core.VariantBuild, false)},
	{"SITEPIPE_PREVIEW_UI_PORT", portSetter(core.VariantPreview, true)},
	{"SITEPIPE_BUILD_UI_PORT", portSetter(core.VariantBuild, true)},
	{"SITEPIPE_SASS", func(f *fileConfig, value string) error {
		f.Tools.Sass = value
		return nil
	}},
}

func (f *fileConfig) applyEnv(env map[string]string) error {
	for _, o := range envOverrides {
		value, ok := env[o.name]
		if !ok || value == "" {
			continue
		}
		if err := o.apply(f, value); err != nil {
			return core.ConfigErrorf("%s: %w", o.name, err)
		}
	}
	return nil
}

func (f *fileConfig) variant(v core.Variant) variantFile {
	if f.Variants == nil {
		f.Variants = map[string]variantFile{}
	}
	return f.Variants[string(v)]
}

func proxySetter(v core.Variant) func(*fileConfig, string) error {
	return func(f *fileConfig, value string) error {
		u, err := url.Parse(value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid proxy origin %q", value)
		}
		vf := f.variant(v)
		vf.Proxy = value
		f.Variants[string(v)] = vf
		return nil
	}
}

func portSetter(v core.Variant, ui bool) func(*fileConfig, string) error {
	return func(f *fileConfig, value string) error {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid port %q", value)
		}
		vf := f.variant(v)
		if ui {
			vf.UIPort = port
		} else {
			vf.Port = port
		}
		f.Variants[string(v)] = vf
		return nil
	}
}
