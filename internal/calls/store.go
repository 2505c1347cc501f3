package calls

import (
	"context"
	"time"
)

// Transition is one guarded status change.
// Stores apply it as a single conditional update: the row only changes when its current
// status is one of SourcesFor(To), so concurrent or duplicate callbacks race safely.
type Transition struct {
	CallID string
	To     Status
	At     time.Time

	// ProviderDuration is the provider-reported duration in seconds, if any.
	ProviderDuration *int

	// ProviderCallID is attached when the row does not have one yet.
	ProviderCallID string

	// Close sets EndedAt and DurationSeconds when To is terminal.
	Close bool

	// RequireUnconnected additionally guards on ConnectedAt being unset.
	RequireUnconnected bool
}

// Store is the persistence contract for call records.
// Implementations must make every mutating method an atomic single-row update.
type Store interface {
	Create(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error)

	// Advance applies t and reports whether the row changed. When it did not, the
	// current row is returned.
	Advance(ctx context.Context, t Transition) (Call, bool, error)

	// Close sets EndedAt/DurationSeconds on a terminal call that is still open.
	Close(ctx context.Context, id string, at time.Time, providerDuration *int) (Call, bool, error)

	RecordDetection(ctx context.Context, id, result string, overridden bool) (Call, error)

	// SetDisposition replaces the disposition only if it currently equals expected (nil = unset).
	SetDisposition(ctx context.Context, id string, expected *Disposition, next Disposition) (Call, bool, error)

	// SetEngagement sets an engagement flag while the call is CONNECTED and the flag is unset.
	SetEngagement(ctx context.Context, id string, kind EngagementKind) (Call, bool, error)

	LatestForRep(ctx context.Context, repID string) (Call, error)

	// ListForRep returns calls started in [from, to), oldest first.
	ListForRep(ctx context.Context, repID string, from, to time.Time) ([]Call, error)
	CountDispositioned(ctx context.Context, sessionID string) (int, error)
}

// durationFor prefers the provider value, otherwise measures talk time (or ring time when
// the call never connected).
func durationFor(c Call, endedAt time.Time, providerDuration *int) int {
	if providerDuration != nil && *providerDuration >= 0 {
		return *providerDuration
	}
	from := c.StartedAt
	if c.ConnectedAt != nil {
		from = *c.ConnectedAt
	}
	d := int(endedAt.Sub(from).Seconds())
	if d < 0 {
		return 0
	}
	return d
}
