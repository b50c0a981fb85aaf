package inventory

import "context"

type Entity string

const (
	EntityCertificate Entity = "certificate"
	EntityTeam        Entity = "team"
)

type Op string

const (
	OpRefreshed Op = "refreshed"
	OpCreated   Op = "created"
	OpUpdated   Op = "updated"
	OpDeleted   Op = "deleted"
)

// Change describes a completed search or mutation. IDs lists the affected
// certificate identifiers for refreshes and row ids otherwise.
type Change struct {
	Entity Entity
	Op     Op
	IDs    []string
}

// Notifier is told about every successful change. Implementations must not
// block for long; they run on the request goroutine.
type Notifier interface {
	Notify(ctx context.Context, change Change)
}

type NotifierFunc func(ctx context.Context, change Change)

func (f NotifierFunc) Notify(ctx context.Context, change Change) {
	f(ctx, change)
}

// MultiNotifier fans a change out to every notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, change Change) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, change)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Change) {}
