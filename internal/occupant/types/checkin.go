package types

type CheckInRequest struct {
	MemberID      string `json:"member_id"`
	SourceChannel string `json:"source_channel"`
	StationID     string `json:"station_id,omitempty"`
	RawCode       string `json:"raw_code,omitempty"` // scanned payload, used for debouncing only
}

type CheckInResponse struct {
	Granted    bool   `json:"granted"`
	Ignored    bool   `json:"ignored,omitempty"`
	Reentry    bool   `json:"reentry,omitempty"`
	Reason     string `json:"reason"`
	MemberID   string `json:"member_id"`
	RecordID   string `json:"record_id,omitempty"`
	EntryTime  string `json:"entry_time,omitempty"`
	ServerTime string `json:"server_time"`
}

// CheckOutRequest identifies the session either by member (today's open
// record) or by record id.  RecordID wins when both are set.
type CheckOutRequest struct {
	MemberID  string `json:"member_id,omitempty"`
	RecordID  string `json:"record_id,omitempty"`
	StationID string `json:"station_id,omitempty"`
}

type CheckOutResponse struct {
	OK              bool   `json:"ok"`
	Reason          string `json:"reason"`
	MemberID        string `json:"member_id,omitempty"`
	RecordID        string `json:"record_id,omitempty"`
	EntryTime       string `json:"entry_time,omitempty"`
	ExitTime        string `json:"exit_time,omitempty"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
	ServerTime      string `json:"server_time"`
}
