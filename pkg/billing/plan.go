package billing

import "github.com/google/uuid"

// Plan is an immutable catalog row describing entitlement allowances and the
// external price it is sold under. Plans are created out-of-band (catalog
// seeding) and read-only to this package.
//
// A nil allowance means unlimited; a nil Interval marks a free plan with no
// billing cadence.
type Plan struct {
	ID                   uuid.UUID
	Name                 string
	UploadLimitMB        int
	TranscriptionMinutes *int
	SummarizationLimit   *int
	ExportLimit          *int
	Interval             *BillingInterval
	PaddlePriceID        string
	PremiumTemplates     bool
	ArchiveAccess        bool
}

// IsFree reports whether the plan is the locally managed no-charge tier.
func (p *Plan) IsFree() bool {
	return p.Interval == nil || p.PaddlePriceID == ""
}

// Feature is a plan-level capability flag.
type Feature string

const (
	FeaturePremiumTemplates Feature = "premium_templates"
	FeatureArchiveAccess    Feature = "archive_access"
)

// HasFeature reports whether the plan enables the given capability.
// Unknown features are disabled, failing closed.
func (p *Plan) HasFeature(f Feature) bool {
	switch f {
	case FeaturePremiumTemplates:
		return p.PremiumTemplates
	case FeatureArchiveAccess:
		return p.ArchiveAccess
	default:
		return false
	}
}
