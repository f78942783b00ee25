package client

import (
	"testing"
	"time"
)

func TestQualityClassification(t *testing.T) {
	tests := []struct {
		name    string
		samples []time.Duration
		want    LinkQuality
	}{
		{"no samples", nil, QualityDisconnected},
		{"fast and steady", []time.Duration{40 * time.Millisecond, 45 * time.Millisecond, 50 * time.Millisecond}, QualityGood},
		{"slow mean", []time.Duration{600 * time.Millisecond, 620 * time.Millisecond, 610 * time.Millisecond}, QualityPoor},
		{"jittery", []time.Duration{50 * time.Millisecond, 450 * time.Millisecond, 50 * time.Millisecond}, QualityPoor},
		{"middling", []time.Duration{250 * time.Millisecond, 260 * time.Millisecond, 270 * time.Millisecond}, QualityFair},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewQualityMonitor()
			for _, s := range tc.samples {
				m.AddSample(s)
			}
			if got := m.Classify(); got != tc.want {
				t.Errorf("Classify = %s, want %s (mean %v jitter %v)", got, tc.want, m.Mean(), m.Jitter())
			}
		})
	}
}

func TestQualityKeepsRecentSamples(t *testing.T) {
	m := NewQualityMonitor()

	// Three old poor samples, then three good ones; only the good ones
	// should count.
	for i := 0; i < 3; i++ {
		m.AddSample(900 * time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		m.AddSample(30 * time.Millisecond)
	}
	if got := m.Classify(); got != QualityGood {
		t.Errorf("Classify = %s, want good after recovery", got)
	}
}

func TestQualityResetDisconnects(t *testing.T) {
	m := NewQualityMonitor()
	m.AddSample(50 * time.Millisecond)
	m.Reset()
	if got := m.Classify(); got != QualityDisconnected {
		t.Errorf("Classify after Reset = %s, want disconnected", got)
	}
}
