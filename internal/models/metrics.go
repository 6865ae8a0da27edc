package models

type DailyQueueMetrics struct {
	QueueID             string             `json:"queue_id"`
	Date                string             `json:"date"`
	Emitted             int                `json:"emitted"`
	Served              int                `json:"served"`
	NoShow              int                `json:"no_show"`
	TotalWaitSeconds    int64              `json:"total_wait_seconds"`
	WaitCount           int                `json:"wait_count"`
	TotalServiceSeconds int64              `json:"total_service_seconds"`
	ServiceCount        int                `json:"service_count"`
	RatingSum           int                `json:"rating_sum"`
	RatingCount         int                `json:"rating_count"`
	AvgWaitSeconds      float64            `json:"avg_wait_seconds"`
	AvgServiceSeconds   float64            `json:"avg_service_seconds"`
	AvgRating           float64            `json:"avg_rating"`
	Attendants          []AttendantMetrics `json:"attendants"`
}

type AttendantMetrics struct {
	AttendantID         string  `json:"attendant_id"`
	AttendantName       string  `json:"attendant_name"`
	Served              int     `json:"served"`
	NoShow              int     `json:"no_show"`
	TotalServiceSeconds int64   `json:"total_service_seconds"`
	ServiceCount        int     `json:"service_count"`
	AvgServiceSeconds   float64 `json:"avg_service_seconds"`
}

type WeekSummary struct {
	QueueID           string              `json:"queue_id"`
	From              string              `json:"from"`
	To                string              `json:"to"`
	Emitted           int                 `json:"emitted"`
	Served            int                 `json:"served"`
	NoShow            int                 `json:"no_show"`
	AvgWaitSeconds    float64             `json:"avg_wait_seconds"`
	AvgServiceSeconds float64             `json:"avg_service_seconds"`
	AvgRating         float64             `json:"avg_rating"`
	Days              []DailyQueueMetrics `json:"days"`
	Attendants        []AttendantMetrics  `json:"attendants"`
}

type LiveStats struct {
	QueueID      string `json:"queue_id"`
	Waiting      int    `json:"waiting"`
	Priority     int    `json:"priority_waiting"`
	Calling      int    `json:"calling"`
	Serving      int    `json:"serving"`
	OpenCounters int    `json:"open_counters"`
	OldestWaitS  int    `json:"oldest_wait_seconds"`
}

// ComputeAverages derives the averages from the stored sums and counts.
func (m *DailyQueueMetrics) ComputeAverages() {
	m.AvgWaitSeconds = average(m.TotalWaitSeconds, m.WaitCount)
	m.AvgServiceSeconds = average(m.TotalServiceSeconds, m.ServiceCount)
	m.AvgRating = average(int64(m.RatingSum), m.RatingCount)
	for i := range m.Attendants {
		m.Attendants[i].AvgServiceSeconds = average(m.Attendants[i].TotalServiceSeconds, m.Attendants[i].ServiceCount)
	}
}

func average(total int64, count int) float64 {
	if count <= 0 {
		return 0
	}
	return float64(total) / float64(count)
}
