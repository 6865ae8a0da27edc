package models

import "time"

type Queue struct {
	QueueID        string        `json:"queue_id"`
	OrganizationID string        `json:"organization_id"`
	Name           string        `json:"name"`
	Settings       QueueSettings `json:"settings"`
	Totem          TotemSettings `json:"totem"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type QueueSettings struct {
	SLAEnabled        bool   `json:"sla_enabled"`
	SLAMaxWaitMinutes int    `json:"sla_max_wait_minutes"`
	SLAMaxQueueSize   int    `json:"sla_max_queue_size"`
	VoiceEnabled      bool   `json:"voice_enabled"`
	CallTemplate      string `json:"call_template"`
}

type TotemSettings struct {
	Title             string `json:"title"`
	Message           string `json:"message,omitempty"`
	ShowEstimatedWait bool   `json:"show_estimated_wait"`
	AllowPriority     bool   `json:"allow_priority"`
}

const DefaultCallTemplate = "Ticket {code}, please proceed to {counter}"

func DefaultQueueSettings() QueueSettings {
	return QueueSettings{
		SLAMaxWaitMinutes: 30,
		SLAMaxQueueSize:   50,
		VoiceEnabled:      true,
		CallTemplate:      DefaultCallTemplate,
	}
}

type ServiceCategory struct {
	CategoryID           string    `json:"category_id"`
	QueueID              string    `json:"queue_id"`
	Name                 string    `json:"name"`
	Color                string    `json:"color,omitempty"`
	Prefix               string    `json:"prefix"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"created_at"`
}
