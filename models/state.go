package models

import "time"

const (
	CrowdWindow   = 5
	SpeedWindow   = 10
	HistoryWindow = 30
)

// Fix is a remembered position and the time it was observed.
type Fix struct {
	Lat   float64
	Lng   float64
	At    time.Time
	Valid bool
}

type HistoryRecord struct {
	At         time.Time `json:"t"`
	Passengers int       `json:"p"`
}

// AnalyticState is the rolling state owned by the per-bus analytics. Every
// sequence is bounded and drops its oldest entry first.
type AnalyticState struct {
	// Movement classifier.
	Movement    Fix
	LastMovedAt time.Time

	// Drive-pattern classifier; evolves independently of Movement.
	Speed        Fix
	SpeedSamples []float64

	// Anomaly detector.
	AnomalyFix         Fix
	LastPassengers     int
	LastPassengersSeen bool

	// Crowd FIFO, oldest first.
	Crowd []int

	// Timestamped event log, oldest first.
	History          []HistoryRecord
	LastHistoryValue int
	HistoryStarted   bool
}

func (s AnalyticState) clone() AnalyticState {
	out := s
	out.SpeedSamples = append([]float64(nil), s.SpeedSamples...)
	out.Crowd = append([]int(nil), s.Crowd...)
	out.History = append([]HistoryRecord(nil), s.History...)
	return out
}
