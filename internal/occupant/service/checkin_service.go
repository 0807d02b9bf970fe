package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BrandonDHaskell/Occupant/server/internal/metrics"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/debounce"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/membership"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/store"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/types"
)

const (
	actionCheckIn  = "check_in"
	actionCheckOut = "check_out"
)

// ChangeNotifier is told whenever the set of people inside changes.
type ChangeNotifier interface {
	Invalidate(ctx context.Context)
}

type CheckInPolicy struct {
	// Location is the facility time zone.  It decides which calendar day a
	// visit belongs to and when a plan end date runs out.
	Location *time.Location
	// ReentryModalities lists plan modalities allowed to come back in while
	// already holding an open record for the day.
	ReentryModalities map[string]struct{}
}

// ReentrySet normalises a list of modalities for CheckInPolicy.
func ReentrySet(modalities []string) map[string]struct{} {
	out := make(map[string]struct{}, len(modalities))
	for _, m := range modalities {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			out[m] = struct{}{}
		}
	}
	return out
}

func (p CheckInPolicy) allowsReentry(modality string) bool {
	_, ok := p.ReentryModalities[strings.ToLower(strings.TrimSpace(modality))]
	return ok
}

type CheckInDeps struct {
	Members  store.MemberStore
	Ledger   store.AttendanceStore
	Events   store.AccessEventStore
	Notifier ChangeNotifier
	Logger   zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// CheckInService turns scans into entry and exit decisions.
type CheckInService struct {
	members  store.MemberStore
	ledger   store.AttendanceStore
	events   store.AccessEventStore
	notifier ChangeNotifier
	policy   CheckInPolicy
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewCheckInService(deps CheckInDeps, policy CheckInPolicy) *CheckInService {
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &CheckInService{
		members:  deps.Members,
		ledger:   deps.Ledger,
		events:   deps.Events,
		notifier: deps.Notifier,
		policy:   policy,
		logger:   deps.Logger.With().Str("component", "checkin").Logger(),
		tracer:   otel.Tracer("occupant/service"),
		now:      now,
	}
}

// admission is the successful outcome of admit.
type admission struct {
	record  store.AttendanceRecord
	reentry bool
}

// CheckIn decides whether the member may enter.  guard is the calling
// station's debounce guard and may be nil.  Decisions, including denials,
// are returned as a response; an error means the decision could not be made.
func (s *CheckInService) CheckIn(ctx context.Context, guard *debounce.Guard, req types.CheckInRequest) (types.CheckInResponse, error) {
	now := s.now().UTC()
	memberID := strings.TrimSpace(req.MemberID)
	if memberID == "" {
		return types.CheckInResponse{}, ErrInvalidMemberID
	}
	ch, err := store.ParseChannel(req.SourceChannel)
	if err != nil {
		return types.CheckInResponse{}, fmt.Errorf("%w: %v", ErrInvalidChannel, err)
	}

	ctx, span := s.tracer.Start(ctx, "checkin.decide",
		trace.WithAttributes(
			attribute.String("member.id", memberID),
			attribute.String("channel", string(ch)),
			attribute.String("station.id", req.StationID),
		),
	)
	defer span.End()

	adm, err := s.admit(ctx, guard, memberID, ch, req.RawCode, now)
	resp := types.CheckInResponse{
		MemberID:   memberID,
		ServerTime: now.Format(time.RFC3339Nano),
	}

	var recordID string
	switch {
	case err == nil:
		resp.Granted = true
		resp.Reentry = adm.reentry
		resp.RecordID = adm.record.ID
		resp.EntryTime = adm.record.EntryAt.Format(time.RFC3339Nano)
		resp.Reason = ReasonGranted
		if adm.reentry {
			resp.Reason = ReasonReentry
		}
		recordID = adm.record.ID
	default:
		reason, ok := ReasonFor(err)
		if !ok {
			span.RecordError(err)
			span.SetStatus(codes.Error, "check-in failed")
			s.logger.Error().Err(err).Str("member_id", memberID).Msg("check-in failed")
			return types.CheckInResponse{}, err
		}
		resp.Reason = reason
		resp.Ignored = errors.Is(err, ErrDebounced)
	}

	span.SetAttributes(attribute.String("decision.reason", resp.Reason))
	metrics.IncCheckIn(resp.Reason)
	// A camera held over a code repeats it every frame; suppressed reads
	// are counted but not written to the audit log.
	if !resp.Ignored {
		s.recordEvent(ctx, store.AccessEventRecord{
			Action:    actionCheckIn,
			StationID: strings.TrimSpace(req.StationID),
			MemberID:  memberID,
			Channel:   ch,
			CodeHash:  hashCode(req.RawCode),
			RecordID:  recordID,
			Granted:   resp.Granted,
			Reason:    resp.Reason,
			DecidedAt: now,
		})
	}

	s.logger.Debug().
		Str("member_id", memberID).
		Str("channel", string(ch)).
		Str("reason", resp.Reason).
		Bool("granted", resp.Granted).
		Msg("check-in decided")

	return resp, nil
}

func (s *CheckInService) admit(
	ctx context.Context,
	guard *debounce.Guard,
	memberID string,
	ch store.Channel,
	rawCode string,
	now time.Time,
) (admission, error) {
	member, err := s.members.GetMember(ctx, memberID)
	if errors.Is(err, store.ErrMemberNotFound) {
		return admission{}, ErrUnknownMember
	}
	if err != nil {
		return admission{}, fmt.Errorf("lookup member %s: %w", memberID, err)
	}

	if ch != store.ChannelManualID && !guard.ShouldProcess(rawCode, now) {
		return admission{}, ErrDebounced
	}

	if v := membership.Evaluate(member.PlanEndDate, member.Status, now, s.policy.Location); v != membership.Valid {
		return admission{}, &InvalidMembershipError{MemberID: memberID, Validity: v}
	}

	day := store.DayOf(now, s.policy.Location)
	rec, err := s.ledger.OpenOrReject(ctx, memberID, day, ch, now)
	var already *store.AlreadyCheckedInError
	switch {
	case err == nil:
	case errors.As(err, &already):
		if s.policy.allowsReentry(member.Modality) {
			return admission{record: already.Existing, reentry: true}, nil
		}
		return admission{}, ErrDuplicateEntryToday
	case errors.Is(err, store.ErrStorageConflict):
		return admission{}, ErrStorageConflict
	default:
		return admission{}, fmt.Errorf("open attendance for %s: %w", memberID, err)
	}

	if err := s.members.IncrementVisits(ctx, memberID); err != nil {
		s.logger.Warn().Err(err).Str("member_id", memberID).Msg("increment visit count failed")
	}
	s.notify(ctx)
	return admission{record: rec}, nil
}

// CheckOut closes a session, either the member's open record (today, or
// yesterday for a visit that crossed midnight) or a specific record.
func (s *CheckInService) CheckOut(ctx context.Context, req types.CheckOutRequest) (types.CheckOutResponse, error) {
	now := s.now().UTC()
	memberID := strings.TrimSpace(req.MemberID)
	recordID := strings.TrimSpace(req.RecordID)
	if memberID == "" && recordID == "" {
		return types.CheckOutResponse{}, ErrInvalidCheckOut
	}

	ctx, span := s.tracer.Start(ctx, "checkout.decide",
		trace.WithAttributes(
			attribute.String("member.id", memberID),
			attribute.String("record.id", recordID),
		),
	)
	defer span.End()

	var (
		rec store.AttendanceRecord
		err error
	)
	if recordID != "" {
		rec, err = s.ledger.CloseByID(ctx, recordID, now, store.CloseManual)
	} else {
		rec, err = s.closeForMember(ctx, memberID, now)
	}

	resp := types.CheckOutResponse{
		MemberID:   memberID,
		RecordID:   recordID,
		ServerTime: now.Format(time.RFC3339Nano),
	}
	if err != nil {
		if errors.Is(err, store.ErrStorageConflict) {
			// Someone closed it between our read and our write.
			err = ErrAlreadyClosed
		}
		reason, ok := ReasonFor(err)
		if !ok {
			span.RecordError(err)
			span.SetStatus(codes.Error, "check-out failed")
			s.logger.Error().Err(err).Str("member_id", memberID).Str("record_id", recordID).Msg("check-out failed")
			return types.CheckOutResponse{}, err
		}
		resp.Reason = reason
	} else {
		s.notify(ctx)
		resp.OK = true
		resp.Reason = ReasonCheckedOut
		resp.MemberID = rec.MemberID
		resp.RecordID = rec.ID
		resp.EntryTime = rec.EntryAt.Format(time.RFC3339Nano)
		resp.ExitTime = rec.ExitAt.Format(time.RFC3339Nano)
		resp.DurationMinutes = rec.DurationMinutes
	}

	span.SetAttributes(attribute.String("decision.reason", resp.Reason))
	metrics.IncCheckOut(resp.Reason)
	s.recordEvent(ctx, store.AccessEventRecord{
		Action:    actionCheckOut,
		StationID: strings.TrimSpace(req.StationID),
		MemberID:  resp.MemberID,
		RecordID:  resp.RecordID,
		Granted:   resp.OK,
		Reason:    resp.Reason,
		DecidedAt: now,
	})
	return resp, nil
}

func (s *CheckInService) closeForMember(ctx context.Context, memberID string, now time.Time) (store.AttendanceRecord, error) {
	today := store.DayOf(now, s.policy.Location)
	rec, err := s.ledger.CloseOpen(ctx, memberID, today, now)
	if !errors.Is(err, store.ErrNoOpenRecord) {
		return rec, err
	}

	yesterday := store.DayOf(now.In(s.policy.Location).AddDate(0, 0, -1), s.policy.Location)
	rec, err = s.ledger.CloseOpen(ctx, memberID, yesterday, now)
	if errors.Is(err, store.ErrNoOpenRecord) {
		return store.AttendanceRecord{}, ErrNoActiveSession
	}
	return rec, err
}

func (s *CheckInService) notify(ctx context.Context) {
	if s.notifier != nil {
		s.notifier.Invalidate(ctx)
	}
}

// recordEvent persists the decision to the audit log.  A failed audit write
// must not change the decision the station receives.
func (s *CheckInService) recordEvent(ctx context.Context, rec store.AccessEventRecord) {
	if s.events == nil {
		return
	}
	if err := s.events.RecordEvent(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("action", rec.Action).Msg("record access event failed")
	}
}

// hashCode returns the SHA-256 of a scanned payload, or nil when there is
// none.  Raw codes are never persisted.
func hashCode(raw string) []byte {
	if raw == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}
