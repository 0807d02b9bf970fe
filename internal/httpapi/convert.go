package httpapi

import (
	"encoding/json"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/types"
)

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

// ── Check-in ─────────────────────────────────────────────────────────────────

func checkInRequestFromStruct(s *structpb.Struct) types.CheckInRequest {
	return types.CheckInRequest{
		MemberID:      stringField(s, "member_id"),
		SourceChannel: stringField(s, "source_channel"),
		StationID:     stringField(s, "station_id"),
		RawCode:       stringField(s, "raw_code"),
	}
}

func checkInResponseToStruct(r types.CheckInResponse) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"granted":     structpb.NewBoolValue(r.Granted),
		"reason":      structpb.NewStringValue(r.Reason),
		"member_id":   structpb.NewStringValue(r.MemberID),
		"server_time": structpb.NewStringValue(r.ServerTime),
	}
	if r.Ignored {
		fields["ignored"] = structpb.NewBoolValue(true)
	}
	if r.Reentry {
		fields["reentry"] = structpb.NewBoolValue(true)
	}
	if r.RecordID != "" {
		fields["record_id"] = structpb.NewStringValue(r.RecordID)
	}
	if r.EntryTime != "" {
		fields["entry_time"] = structpb.NewStringValue(r.EntryTime)
	}
	return &structpb.Struct{Fields: fields}
}

// ── Check-out ────────────────────────────────────────────────────────────────

func checkOutRequestFromStruct(s *structpb.Struct) types.CheckOutRequest {
	return types.CheckOutRequest{
		MemberID:  stringField(s, "member_id"),
		RecordID:  stringField(s, "record_id"),
		StationID: stringField(s, "station_id"),
	}
}

func checkOutResponseToStruct(r types.CheckOutResponse) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"ok":          structpb.NewBoolValue(r.OK),
		"reason":      structpb.NewStringValue(r.Reason),
		"server_time": structpb.NewStringValue(r.ServerTime),
	}
	if r.MemberID != "" {
		fields["member_id"] = structpb.NewStringValue(r.MemberID)
	}
	if r.RecordID != "" {
		fields["record_id"] = structpb.NewStringValue(r.RecordID)
	}
	if r.EntryTime != "" {
		fields["entry_time"] = structpb.NewStringValue(r.EntryTime)
	}
	if r.ExitTime != "" {
		fields["exit_time"] = structpb.NewStringValue(r.ExitTime)
	}
	if r.DurationMinutes != nil {
		fields["duration_minutes"] = structpb.NewNumberValue(float64(*r.DurationMinutes))
	}
	return &structpb.Struct{Fields: fields}
}

// ── Read models ──────────────────────────────────────────────────────────────

// toStruct converts a JSON-tagged response into a Struct with the same
// field names as its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
