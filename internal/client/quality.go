package client

import (
	"math"
	"sync"
	"time"
)

// LinkQuality classifies the connection from recent round-trip samples.
type LinkQuality string

const (
	QualityGood         LinkQuality = "good"
	QualityFair         LinkQuality = "fair"
	QualityPoor         LinkQuality = "poor"
	QualityDisconnected LinkQuality = "disconnected"
)

// qualitySampleCount is how many recent RTT samples feed classification.
const qualitySampleCount = 3

// QualityMonitor keeps the last few round-trip samples and classifies the
// link by mean latency and jitter (standard deviation).
type QualityMonitor struct {
	mu      sync.Mutex
	samples []time.Duration
}

func NewQualityMonitor() *QualityMonitor {
	return &QualityMonitor{}
}

// AddSample records a round-trip measurement, keeping only the newest
// qualitySampleCount.
func (m *QualityMonitor) AddSample(rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, rtt)
	if len(m.samples) > qualitySampleCount {
		m.samples = m.samples[len(m.samples)-qualitySampleCount:]
	}
}

// Reset clears all samples, returning the link to disconnected.
func (m *QualityMonitor) Reset() {
	m.mu.Lock()
	m.samples = nil
	m.mu.Unlock()
}

// Mean returns the average of the kept samples.
func (m *QualityMonitor) Mean() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mean(m.samples)
}

// Jitter returns the standard deviation of the kept samples.
func (m *QualityMonitor) Jitter() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return stddev(m.samples)
}

// Classify maps mean and jitter to a quality bucket: good under
// 200ms/50ms, poor over 500ms or 150ms jitter, fair between, and
// disconnected with no samples at all.
func (m *QualityMonitor) Classify() LinkQuality {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples) == 0 {
		return QualityDisconnected
	}
	mu := mean(m.samples)
	sigma := stddev(m.samples)

	switch {
	case mu < 200*time.Millisecond && sigma < 50*time.Millisecond:
		return QualityGood
	case mu > 500*time.Millisecond || sigma > 150*time.Millisecond:
		return QualityPoor
	default:
		return QualityFair
	}
}

func mean(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return sum / time.Duration(len(samples))
}

func stddev(samples []time.Duration) time.Duration {
	if len(samples) < 2 {
		return 0
	}
	mu := float64(mean(samples))
	var variance float64
	for _, s := range samples {
		d := float64(s) - mu
		variance += d * d
	}
	variance /= float64(len(samples))
	return time.Duration(math.Sqrt(variance))
}
