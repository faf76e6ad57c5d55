// Package config provides environment-scoped reporting presets and a
// runtime-updatable configuration manager for the error pipeline.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/faultline/faultline-go/pkg/faultline/ringlog"
)

// Sampling controls the fraction of errors transmitted to backends.
// Sampled-out errors are still logged locally.
type Sampling struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`
}

// Privacy controls what user identity leaves the process.
type Privacy struct {
	AnonymizeIP     bool `yaml:"anonymize_ip"`
	IncludeUsername bool `yaml:"include_username"`
}

// BackendTarget names one telemetry receiver. Order sequences the
// fallback chain; disabled targets are skipped.
type BackendTarget struct {
	Name          string `yaml:"name"`
	EndpointOrKey string `yaml:"endpoint_or_key"`
	Enabled       bool   `yaml:"enabled"`
	Order         int    `yaml:"order"`
}

// Config is the process-wide reporting configuration.
type Config struct {
	Environment     string          `yaml:"environment"`
	BatchSize       int             `yaml:"batch_size"`
	BatchTimeout    time.Duration   `yaml:"batch_timeout"`
	MaxQueueSize    int             `yaml:"max_queue_size"`
	MaxBreadcrumbs  int             `yaml:"max_breadcrumbs"`
	MaxRetries      int             `yaml:"max_retries"`
	DispatchTimeout time.Duration   `yaml:"dispatch_timeout"`
	Sampling        Sampling        `yaml:"sampling"`
	Privacy         Privacy         `yaml:"privacy"`
	Backends        []BackendTarget `yaml:"backends"`
}

// EnabledBackends returns the enabled targets sorted by Order.
func (c Config) EnabledBackends() []BackendTarget {
	out := make([]BackendTarget, 0, len(c.Backends))
	for _, b := range c.Backends {
		if b.Enabled {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Development returns the development preset: every error ships
// immediately, nothing is sampled out, breadcrumbs are verbose.
func Development() Config {
	return Config{
		Environment:     "development",
		BatchSize:       1,
		BatchTimeout:    2 * time.Second,
		MaxQueueSize:    200,
		MaxBreadcrumbs:  100,
		MaxRetries:      2,
		DispatchTimeout: 5 * time.Second,
		Sampling:        Sampling{Enabled: false, Rate: 1.0},
		Privacy:         Privacy{AnonymizeIP: false, IncludeUsername: true},
	}
}

// Staging returns the staging preset.
func Staging() Config {
	return Config{
		Environment:     "staging",
		BatchSize:       5,
		BatchTimeout:    15 * time.Second,
		MaxQueueSize:    500,
		MaxBreadcrumbs:  50,
		MaxRetries:      3,
		DispatchTimeout: 10 * time.Second,
		Sampling:        Sampling{Enabled: true, Rate: 0.8},
		Privacy:         Privacy{AnonymizeIP: false, IncludeUsername: true},
	}
}

// Production returns the production preset: larger batches, longer
// accumulation window, half sampling, anonymized user tracking.
func Production() Config {
	return Config{
		Environment:     "production",
		BatchSize:       10,
		BatchTimeout:    30 * time.Second,
		MaxQueueSize:    1000,
		MaxBreadcrumbs:  30,
		MaxRetries:      3,
		DispatchTimeout: 10 * time.Second,
		Sampling:        Sampling{Enabled: true, Rate: 0.5},
		Privacy:         Privacy{AnonymizeIP: true, IncludeUsername: false},
	}
}

// ForEnvironment selects a preset by name. Unknown names fall back to
// production, the safe default.
func ForEnvironment(env string) Config {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev":
		return Development()
	case "staging", "stage":
		return Staging()
	default:
		return Production()
	}
}

// FromEnv selects a preset from the FAULTLINE_ENV environment
// variable. This is the once-at-startup preset selection.
func FromEnv() Config {
	return ForEnvironment(os.Getenv("FAULTLINE_ENV"))
}

// Patch carries partial updates. Nil fields leave the current value
// unchanged.
type Patch struct {
	BatchSize       *int             `yaml:"batch_size"`
	BatchTimeout    *time.Duration   `yaml:"batch_timeout"`
	MaxQueueSize    *int             `yaml:"max_queue_size"`
	MaxBreadcrumbs  *int             `yaml:"max_breadcrumbs"`
	MaxRetries      *int             `yaml:"max_retries"`
	DispatchTimeout *time.Duration   `yaml:"dispatch_timeout"`
	Sampling        *Sampling        `yaml:"sampling"`
	Privacy         *Privacy         `yaml:"privacy"`
	Backends        *[]BackendTarget `yaml:"backends"`
}

// apply merges the patch into cfg, skipping any field that fails its
// range check. Each skipped field is reported via reject.
func (p Patch) apply(cfg *Config, reject func(field string, value any)) {
	if p.BatchSize != nil {
		if *p.BatchSize >= 1 {
			cfg.BatchSize = *p.BatchSize
		} else {
			reject("batch_size", *p.BatchSize)
		}
	}
	if p.BatchTimeout != nil {
		if *p.BatchTimeout > 0 {
			cfg.BatchTimeout = *p.BatchTimeout
		} else {
			reject("batch_timeout", *p.BatchTimeout)
		}
	}
	if p.MaxQueueSize != nil {
		if *p.MaxQueueSize >= 1 {
			cfg.MaxQueueSize = *p.MaxQueueSize
		} else {
			reject("max_queue_size", *p.MaxQueueSize)
		}
	}
	if p.MaxBreadcrumbs != nil {
		if *p.MaxBreadcrumbs >= 1 {
			cfg.MaxBreadcrumbs = *p.MaxBreadcrumbs
		} else {
			reject("max_breadcrumbs", *p.MaxBreadcrumbs)
		}
	}
	if p.MaxRetries != nil {
		if *p.MaxRetries >= 0 {
			cfg.MaxRetries = *p.MaxRetries
		} else {
			reject("max_retries", *p.MaxRetries)
		}
	}
	if p.DispatchTimeout != nil {
		if *p.DispatchTimeout > 0 {
			cfg.DispatchTimeout = *p.DispatchTimeout
		} else {
			reject("dispatch_timeout", *p.DispatchTimeout)
		}
	}
	if p.Sampling != nil {
		if p.Sampling.Rate >= 0 && p.Sampling.Rate <= 1 {
			cfg.Sampling = *p.Sampling
		} else {
			reject("sampling.rate", p.Sampling.Rate)
		}
	}
	if p.Privacy != nil {
		cfg.Privacy = *p.Privacy
	}
	if p.Backends != nil {
		valid := true
		for _, b := range *p.Backends {
			if b.Name == "" {
				reject("backends", "target with empty name")
				valid = false
				break
			}
		}
		if valid {
			cfg.Backends = append([]BackendTarget(nil), (*p.Backends)...)
		}
	}
}

// filePatch is the yaml form of Patch; durations are strings like "30s".
type filePatch struct {
	BatchSize       *int             `yaml:"batch_size"`
	BatchTimeout    *string          `yaml:"batch_timeout"`
	MaxQueueSize    *int             `yaml:"max_queue_size"`
	MaxBreadcrumbs  *int             `yaml:"max_breadcrumbs"`
	MaxRetries      *int             `yaml:"max_retries"`
	DispatchTimeout *string          `yaml:"dispatch_timeout"`
	Sampling        *Sampling        `yaml:"sampling"`
	Privacy         *Privacy         `yaml:"privacy"`
	Backends        *[]BackendTarget `yaml:"backends"`
}

// toPatch converts the yaml form, dropping unparseable durations.
func (f filePatch) toPatch(reject func(field string, value any)) Patch {
	p := Patch{
		BatchSize:      f.BatchSize,
		MaxQueueSize:   f.MaxQueueSize,
		MaxBreadcrumbs: f.MaxBreadcrumbs,
		MaxRetries:     f.MaxRetries,
		Sampling:       f.Sampling,
		Privacy:        f.Privacy,
		Backends:       f.Backends,
	}
	if f.BatchTimeout != nil {
		if d, err := time.ParseDuration(*f.BatchTimeout); err == nil {
			p.BatchTimeout = &d
		} else {
			reject("batch_timeout", *f.BatchTimeout)
		}
	}
	if f.DispatchTimeout != nil {
		if d, err := time.ParseDuration(*f.DispatchTimeout); err == nil {
			p.DispatchTimeout = &d
		} else {
			reject("dispatch_timeout", *f.DispatchTimeout)
		}
	}
	return p
}

// LoadFile reads a yaml patch file and applies it onto base, running
// the same per-field validation as Update.
func LoadFile(base Config, path string, log *ringlog.Logger) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config file %s: %w", path, err)
	}
	var fp filePatch
	if err := yaml.Unmarshal(data, &fp); err != nil {
		return base, fmt.Errorf("parse config file %s: %w", path, err)
	}
	reject := func(field string, value any) {
		log.Warn("ignoring invalid config field", nil, map[string]any{"field": field, "value": fmt.Sprintf("%v", value)})
	}
	cfg := base
	fp.toPatch(reject).apply(&cfg, reject)
	return cfg, nil
}
