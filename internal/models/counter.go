package models

const (
	CounterOpen   = "open"
	CounterPaused = "paused"
	CounterClosed = "closed"
)

type Counter struct {
	CounterID          string `json:"counter_id"`
	QueueID            string `json:"queue_id"`
	Name               string `json:"name"`
	Number             int    `json:"number"`
	Status             string `json:"status"`
	AssignedUserID     string `json:"assigned_user_id,omitempty"`
	AssignedUserName   string `json:"assigned_user_name,omitempty"`
	AttendantID        string `json:"attendant_id,omitempty"`
	AttendantName      string `json:"attendant_name,omitempty"`
	CurrentTicketID    string `json:"current_ticket_id,omitempty"`
	CurrentTicketCode  string `json:"current_ticket_code,omitempty"`
	TicketsServedToday int    `json:"tickets_served_today"`
	PauseAfterCurrent  bool   `json:"pause_after_current"`
}

func ValidCounterStatus(status string) bool {
	switch status {
	case CounterOpen, CounterPaused, CounterClosed:
		return true
	}
	return false
}
