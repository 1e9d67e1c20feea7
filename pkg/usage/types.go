package usage

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/voxnote/pkg/billing"
)

// Entry is one append-only usage record. Records are matched to a
// subscription by falling inside its billing window, not by foreign key,
// because a window can span subscription edits.
type Entry struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Quantity  int
	CreatedAt time.Time
}

// Metric describes one metered capability: which plan field limits it and
// how to talk about it in user-facing messages.
type Metric struct {
	Name    string
	Unit    string
	LimitOf func(*billing.Plan) *int
}

// TranscriptionMinutes is the metered transcription capability.
func TranscriptionMinutes() Metric {
	return Metric{
		Name:    "transcription",
		Unit:    "minutes",
		LimitOf: func(p *billing.Plan) *int { return p.TranscriptionMinutes },
	}
}

// DocumentExports is the metered document export capability.
func DocumentExports() Metric {
	return Metric{
		Name:    "export",
		Unit:    "exports",
		LimitOf: func(p *billing.Plan) *int { return p.ExportLimit },
	}
}

// LimitCheck is the result of a quota evaluation. A nil PlanLimit (and nil
// Remaining) means the plan's allowance is unlimited and no ledger query was
// made.
type LimitCheck struct {
	Allowed         bool
	Message         string
	Warning         string
	Used            int
	PlanLimit       *int
	Remaining       *int
	FreePlan        bool
	WindowStart     time.Time
	WindowEnd       *time.Time
	BillingInterval *billing.BillingInterval
}
