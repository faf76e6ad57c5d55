package stderr

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline-go/pkg/faultline"
)

func sampleBatch() *faultline.Batch {
	return &faultline.Batch{
		BatchID:   "b-1",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Records: []faultline.ErrorRecord{
			{
				ID:          "r-1",
				Kind:        faultline.KindNetwork,
				Message:     "connection refused",
				Severity:    faultline.SeverityError,
				Source:      faultline.SourceHTTP,
				Fingerprint: "abc123",
			},
		},
		Breadcrumbs: []faultline.Breadcrumb{
			{Timestamp: time.Now(), Category: faultline.CategoryNavigation, Message: "/orders"},
		},
	}
}

func TestSend_PrintsSummary(t *testing.T) {
	var buf bytes.Buffer
	b := New(WithWriter(&buf))

	require.NoError(t, b.Send(context.Background(), sampleBatch()))

	out := buf.String()
	assert.Contains(t, out, "batch b-1: 1 record(s)")
	assert.Contains(t, out, "ERROR network [http] connection refused")
	assert.NotContains(t, out, "abc123", "fingerprints only print in verbose mode")
	assert.NotContains(t, out, "Trail:")
}

func TestSend_VerboseIncludesDetailAndTrail(t *testing.T) {
	var buf bytes.Buffer
	b := New(WithWriter(&buf), WithVerbose())

	require.NoError(t, b.Send(context.Background(), sampleBatch()))

	out := buf.String()
	assert.Contains(t, out, "fingerprint: abc123 id: r-1")
	assert.Contains(t, out, "Trail:")
	assert.Contains(t, out, "/orders")
}

func TestName(t *testing.T) {
	assert.Equal(t, "stderr", New().Name())
}
