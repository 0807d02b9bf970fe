package types

type DayStats struct {
	Day                    string `json:"day"`
	VisitCount             int    `json:"visit_count"`
	AverageDurationMinutes int    `json:"average_duration_minutes"`
	Peak                   int    `json:"peak"`
	PeakAt                 string `json:"peak_at,omitempty"`
}

type OccupancyResponse struct {
	CurrentCount int      `json:"current_count"`
	CapacityMax  int      `json:"capacity_max"`
	Percentage   int      `json:"percentage"`
	Band         string   `json:"band"`
	Alert        bool     `json:"alert"`
	AsOf         string   `json:"as_of"`
	Day          DayStats `json:"day_stats"`
}

type PendingExit struct {
	RecordID       string `json:"record_id"`
	MemberID       string `json:"member_id"`
	Channel        string `json:"source_channel"`
	EntryTime      string `json:"entry_time"`
	ElapsedMinutes int    `json:"elapsed_minutes"`
}

type PendingExitsResponse struct {
	Swept   int           `json:"swept"`
	Pending []PendingExit `json:"pending"`
	AsOf    string        `json:"as_of"`
}
