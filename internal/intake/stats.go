package intake

import (
	"sync"
	"time"
)

type result int

const (
	resultCompleted result = iota
	resultFailed
	resultRequeued
	resultDropped
)

// Stats is a point-in-time view of the intake loop.
type Stats struct {
	Processed  int64     `json:"processed"`
	Completed  int64     `json:"completed"`
	Failed     int64     `json:"failed"`
	Requeued   int64     `json:"requeued"`
	Dropped    int64     `json:"dropped"`
	InFlight   int64     `json:"in_flight"`
	LastJobID  string    `json:"last_job_id,omitempty"`
	LastSettle time.Time `json:"last_settled_at,omitempty"`
}

type stats struct {
	mu sync.Mutex
	s  Stats
}

func (s *stats) begin(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.InFlight++
	if jobID != "" {
		s.s.LastJobID = jobID
	}
}

func (s *stats) end(r result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.InFlight--
	s.s.Processed++
	s.s.LastSettle = time.Now().UTC()
	switch r {
	case resultCompleted:
		s.s.Completed++
	case resultFailed:
		s.s.Failed++
	case resultRequeued:
		s.s.Requeued++
	case resultDropped:
		s.s.Dropped++
	}
}

func (s *stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s
}
