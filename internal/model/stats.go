package model

import "time"

// Stats reports the runtime health of the telemetry pipeline.
type Stats struct {
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	Uptime      string    `json:"uptime" yaml:"uptime"`
	Subscribers int       `json:"subscribers" yaml:"subscribers"`
	InFlight    int       `json:"in_flight" yaml:"in_flight"`
	Evicted     uint64    `json:"evicted" yaml:"evicted"`
	Misses      uint64    `json:"misses" yaml:"misses"`
	Applied     uint64    `json:"applied" yaml:"applied"`
	Dropped     uint64    `json:"dropped" yaml:"dropped"`
	Pending     int       `json:"pending" yaml:"pending"`
}
