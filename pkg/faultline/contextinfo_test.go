package faultline

import (
	"fmt"
	"testing"
	"time"
)

func TestContextCollector_SetUserMerges(t *testing.T) {
	c := NewContextCollector()

	c.SetUser(UserContext{UserID: "u1", Email: "a@example.com"})
	c.SetUser(UserContext{Email: "b@example.com", SessionID: "s1"})

	u := c.CollectUser()
	if u.UserID != "u1" {
		t.Errorf("UserID = %q, want u1 (unrelated fields untouched)", u.UserID)
	}
	if u.Email != "b@example.com" {
		t.Errorf("Email = %q, want last write", u.Email)
	}
	if u.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", u.SessionID)
	}
}

func TestContextCollector_TimingFIFOCap(t *testing.T) {
	c := NewContextCollector()

	for i := 0; i < maxTimingSamples+5; i++ {
		c.AddTiming(TimingSample{
			Kind:     TimingAPI,
			Endpoint: fmt.Sprintf("GET /item/%d", i),
			Duration: time.Millisecond,
		})
	}

	perf := c.CollectPerformance()
	if len(perf.API) != maxTimingSamples {
		t.Fatalf("API samples = %d, want cap %d", len(perf.API), maxTimingSamples)
	}
	if perf.API[0].Endpoint != "GET /item/5" {
		t.Errorf("oldest kept sample = %q, want GET /item/5", perf.API[0].Endpoint)
	}
	if len(perf.Navigation) != 0 || len(perf.Render) != 0 {
		t.Error("other lists should be untouched")
	}
}

func TestContextCollector_EnvironmentFreshProbes(t *testing.T) {
	c := NewContextCollector()
	c.SetEnvironmentHints(EnvironmentHints{
		PageURL:  "https://app.example.com/orders",
		Viewport: &Viewport{Width: 1280, Height: 800},
	})

	env := c.CollectEnvironment()
	if env.PageURL != "https://app.example.com/orders" {
		t.Errorf("PageURL = %q", env.PageURL)
	}
	if env.Viewport.Width != 1280 {
		t.Errorf("Viewport.Width = %d, want 1280", env.Viewport.Width)
	}
	if env.UserAgentSummary == "" {
		t.Error("UserAgentSummary should carry the runtime summary")
	}
	if env.MemoryHint <= 0 {
		t.Error("MemoryHint should be probed fresh")
	}
	if env.GoroutineCount <= 0 {
		t.Error("GoroutineCount should be probed fresh")
	}
}

func TestContextCollector_PerformanceSnapshotIsCopy(t *testing.T) {
	c := NewContextCollector()
	c.AddTiming(TimingSample{Kind: TimingRender, Component: "orders"})

	perf := c.CollectPerformance()
	perf.Render[0].Component = "mutated"

	if c.CollectPerformance().Render[0].Component != "orders" {
		t.Error("mutating a snapshot must not affect held samples")
	}
}
