// Package backends builds the backend fallback chain from configured
// targets. New backend types are added by implementing
// faultline.Backend and registering a factory, not by branching on
// type at call sites.
package backends

import (
	"strings"
	"sync"

	"github.com/faultline/faultline-go/pkg/faultline"
	"github.com/faultline/faultline-go/pkg/faultline/backends/httpapi"
	"github.com/faultline/faultline-go/pkg/faultline/backends/noop"
	"github.com/faultline/faultline-go/pkg/faultline/backends/stderr"
	"github.com/faultline/faultline-go/pkg/faultline/config"
)

// Factory builds a backend from its configured target.
type Factory func(target config.BackendTarget) faultline.Backend

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"stderr": func(config.BackendTarget) faultline.Backend {
			return stderr.New()
		},
		"noop": func(config.BackendTarget) faultline.Backend {
			return noop.New()
		},
	}
)

// Register installs a factory under name, overriding any previous one.
// Vendor integrations use this to become addressable from config.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = factory
}

// Build maps enabled targets, in fallback order, onto backend
// implementations. Targets whose EndpointOrKey is an http(s) URL build
// an httpapi backend; otherwise the name is looked up in the registry.
// Unresolvable targets are skipped.
func Build(cfg config.Config) []faultline.Backend {
	var out []faultline.Backend
	for _, target := range cfg.EnabledBackends() {
		if b := build(target); b != nil {
			out = append(out, b)
		}
	}
	return out
}

func build(target config.BackendTarget) faultline.Backend {
	if strings.HasPrefix(target.EndpointOrKey, "http://") || strings.HasPrefix(target.EndpointOrKey, "https://") {
		return httpapi.New(target.EndpointOrKey, "", httpapi.WithName(target.Name))
	}

	registryMu.RLock()
	factory, ok := registry[strings.ToLower(target.Name)]
	registryMu.RUnlock()
	if !ok {
		return nil
	}
	return factory(target)
}
