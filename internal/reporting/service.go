// Package reporting answers supervisor dashboard queries. It only reads: live counters come
// from sessions, call state from calls, connection state from presence.
package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"callcenter/internal/calls"
	"callcenter/internal/presence"
	"callcenter/internal/sessions"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

type CallReader interface {
	LatestForRep(ctx context.Context, repID string) (calls.Call, error)
	ListForRep(ctx context.Context, repID string, from, to time.Time) ([]calls.Call, error)
}

type SessionReader interface {
	ActiveForRep(ctx context.Context, repID string) (sessions.Session, error)
	ListActive(ctx context.Context) ([]sessions.Session, error)
}

type Service struct {
	calls    CallReader
	sessions SessionReader
	presence presence.Registry
}

func NewService(c CallReader, s SessionReader, p presence.Registry) *Service {
	return &Service{calls: c, sessions: s, presence: p}
}

// RepStatus returns the most recent call and live counters for one rep.
func (s *Service) RepStatus(ctx context.Context, repID string) (RepStatus, error) {
	if repID == "" {
		return RepStatus{}, ErrInvalidRequest
	}
	sess, err := s.sessions.ActiveForRep(ctx, repID)
	switch {
	case err == nil:
		return s.build(ctx, repID, &sess)
	case errors.Is(err, sessions.ErrNotFound):
		return s.build(ctx, repID, nil)
	default:
		return RepStatus{}, err
	}
}

// AllRepStatuses covers every rep that is online or has an active session, sorted by rep ID.
func (s *Service) AllRepStatuses(ctx context.Context) ([]RepStatus, error) {
	active, err := s.sessions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	byRep := make(map[string]*sessions.Session, len(active))
	for i := range active {
		byRep[active[i].RepID] = &active[i]
	}
	online, err := s.presence.Online(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range online {
		if _, ok := byRep[id]; !ok {
			byRep[id] = nil
		}
	}

	ids := make([]string, 0, len(byRep))
	for id := range byRep {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]RepStatus, 0, len(ids))
	for _, id := range ids {
		st, err := s.build(ctx, id, byRep[id])
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Service) build(ctx context.Context, repID string, sess *sessions.Session) (RepStatus, error) {
	out := RepStatus{RepID: repID}

	online, err := s.presence.IsOnline(ctx, repID)
	if err != nil {
		return RepStatus{}, err
	}
	out.Online = online

	latest, err := s.calls.LatestForRep(ctx, repID)
	switch {
	case err == nil:
		out.LatestCall = &latest
	case !errors.Is(err, calls.ErrNotFound):
		return RepStatus{}, err
	}

	if sess != nil {
		out.Session = &SessionSummary{
			ID:            sess.ID,
			AutoDial:      sess.AutoDial,
			StartedAt:     sess.StartedAt,
			Counters:      sess.Counters,
			Conversations: sess.Counters.Conversations(),
		}
	}
	out.Status = presence.Derive(sess != nil, out.LatestCall, online)
	return out, nil
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.RepID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}

	rows, err := s.calls.ListForRep(ctx, req.RepID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{RepID: req.RepID, Range: req.Range}
	ended := 0
	for _, c := range rows {
		out.TotalCalls++
		if c.ConnectedAt != nil {
			out.ConnectedCalls++
		}
		if c.DurationSeconds != nil {
			out.TotalDurationSeconds += *c.DurationSeconds
			ended++
		}
		if c.AMDOverridden {
			out.AMDOverrides++
		}
		if c.Disposition != nil {
			out.Dispositioned++
		}
		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusVoicemail:
			out.VoicemailCalls++
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusInitiated, calls.StatusRinging, calls.StatusConnected:
			out.InProgressCalls++
		}
	}
	if ended > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / ended
	}
	if out.TotalCalls > 0 {
		out.ConnectionRate = float64(out.ConnectedCalls) / float64(out.TotalCalls)
	}
	return out, nil
}
