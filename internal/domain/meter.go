package domain

import (
	"sort"
	"time"
)

// MeterSample is one reading of the meter stream of a transaction.
type MeterSample struct {
	Timestamp time.Time `json:"timestamp"`
	EnergyKWh float64   `json:"energy_kwh"`
	PowerKW   *float64  `json:"power_kw,omitempty"`
	CurrentA  *float64  `json:"current_a,omitempty"`
	VoltageV  *float64  `json:"voltage_v,omitempty"`
}

// MeterWindow keeps the latest sample and a bounded tail of the series.
type MeterWindow struct {
	Latest  *MeterSample  `json:"latest,omitempty"`
	Samples []MeterSample `json:"samples"`
}

// NewMeterWindow orders samples by timestamp and keeps at most size of the most recent ones.
func NewMeterWindow(samples []MeterSample, size int) MeterWindow {
	ordered := make([]MeterSample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	if size > 0 && len(ordered) > size {
		ordered = ordered[len(ordered)-size:]
	}

	w := MeterWindow{Samples: ordered}
	if len(ordered) > 0 {
		latest := ordered[len(ordered)-1]
		w.Latest = &latest
	}
	return w
}
