// contextinfo.go snapshots user, environment, and performance state
// for inclusion in report batches.

package faultline

import (
	"os"
	"runtime"
	"sync"
	"time"
)

// UserContext identifies the user a failure happened to. Absent fields
// are omitted from reports.
type UserContext struct {
	UserID    string `json:"user_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Viewport is the host-reported display size, when one exists.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EnvironmentContext describes where a failure happened. Process-level
// fields are probed fresh at report time; page-level fields come from
// the most recent host hints.
type EnvironmentContext struct {
	PageURL          string   `json:"page_url,omitempty"`
	UserAgentSummary string   `json:"user_agent_summary"`
	Viewport         Viewport `json:"viewport"`
	Timezone         string   `json:"timezone"`
	Locale           string   `json:"locale,omitempty"`
	Hostname         string   `json:"hostname,omitempty"`
	MemoryHint       int64    `json:"memory_hint,omitempty"`
	GoroutineCount   int      `json:"goroutine_count,omitempty"`
}

// EnvironmentHints carries host-supplied environment fields. Nil or
// zero fields leave the held value unchanged.
type EnvironmentHints struct {
	PageURL  string
	Viewport *Viewport
	Locale   string
}

// TimingKind distinguishes the three performance sample lists.
type TimingKind string

const (
	TimingNavigation TimingKind = "navigation"
	TimingAPI        TimingKind = "api"
	TimingRender     TimingKind = "render"
)

// TimingSample is one recorded duration.
type TimingSample struct {
	Kind       TimingKind    `json:"kind"`
	Endpoint   string        `json:"endpoint,omitempty"`
	Component  string        `json:"component,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
	StatusCode int           `json:"status_code,omitempty"`
}

// PerformanceContext holds the recent timing samples, each list capped
// with FIFO eviction.
type PerformanceContext struct {
	Navigation []TimingSample `json:"navigation,omitempty"`
	API        []TimingSample `json:"api,omitempty"`
	Render     []TimingSample `json:"render,omitempty"`
}

// maxTimingSamples caps each performance sample list.
const maxTimingSamples = 20

// ContextCollector holds user and environment state and serves
// synchronous snapshots. All methods are safe for concurrent use.
type ContextCollector struct {
	mu         sync.Mutex
	user       UserContext
	hints      EnvironmentHints
	navigation []TimingSample
	api        []TimingSample
	render     []TimingSample
	startTime  time.Time
}

// NewContextCollector creates an empty collector. startTime anchors
// uptime-style probes.
func NewContextCollector() *ContextCollector {
	return &ContextCollector{startTime: time.Now()}
}

// SetUser merges non-empty fields into the held user context,
// last-write-wins per field.
func (c *ContextCollector) SetUser(u UserContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u.UserID != "" {
		c.user.UserID = u.UserID
	}
	if u.Username != "" {
		c.user.Username = u.Username
	}
	if u.Email != "" {
		c.user.Email = u.Email
	}
	if u.SessionID != "" {
		c.user.SessionID = u.SessionID
	}
}

// SetEnvironmentHints merges host-supplied environment fields.
func (c *ContextCollector) SetEnvironmentHints(h EnvironmentHints) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.PageURL != "" {
		c.hints.PageURL = h.PageURL
	}
	if h.Viewport != nil {
		v := *h.Viewport
		c.hints.Viewport = &v
	}
	if h.Locale != "" {
		c.hints.Locale = h.Locale
	}
}

// AddTiming appends a timing sample to the list matching its kind,
// evicting the oldest sample once the list holds maxTimingSamples.
func (c *ContextCollector) AddTiming(s TimingSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s.Kind {
	case TimingNavigation:
		c.navigation = appendCapped(c.navigation, s)
	case TimingAPI:
		c.api = appendCapped(c.api, s)
	case TimingRender:
		c.render = appendCapped(c.render, s)
	}
}

func appendCapped(list []TimingSample, s TimingSample) []TimingSample {
	list = append(list, s)
	if len(list) > maxTimingSamples {
		list = list[len(list)-maxTimingSamples:]
	}
	return list
}

// CollectUser returns a copy of the held user context.
func (c *ContextCollector) CollectUser() UserContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// CollectEnvironment captures the environment fresh: process probes
// are read now, page-level fields come from the latest hints.
func (c *ContextCollector) CollectEnvironment() EnvironmentContext {
	c.mu.Lock()
	hints := c.hints
	c.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hostname, _ := os.Hostname() // empty hostname is acceptable

	zone, _ := time.Now().Zone()

	env := EnvironmentContext{
		PageURL:          hints.PageURL,
		UserAgentSummary: runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH,
		Timezone:         zone,
		Locale:           hints.Locale,
		Hostname:         hostname,
		MemoryHint:       int64(memStats.Alloc),
		GoroutineCount:   runtime.NumGoroutine(),
	}
	if hints.Locale == "" {
		env.Locale = localeFromEnv()
	}
	if hints.Viewport != nil {
		env.Viewport = *hints.Viewport
	}
	return env
}

// localeFromEnv derives a locale from the conventional env vars.
func localeFromEnv() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// CollectPerformance returns a copy of the held timing sample lists.
func (c *ContextCollector) CollectPerformance() PerformanceContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PerformanceContext{
		Navigation: append([]TimingSample(nil), c.navigation...),
		API:        append([]TimingSample(nil), c.api...),
		Render:     append([]TimingSample(nil), c.render...),
	}
}
