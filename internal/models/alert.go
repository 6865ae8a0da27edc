package models

import "time"

const (
	AlertMaxWait   = "max_wait"
	AlertQueueSize = "queue_size"
)

type SLAAlert struct {
	AlertID   string    `json:"alert_id"`
	QueueID   string    `json:"queue_id"`
	Type      string    `json:"type"`
	Value     int       `json:"value"`
	Threshold int       `json:"threshold"`
	CreatedAt time.Time `json:"created_at"`
}
