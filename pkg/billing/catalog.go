package billing

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog marks a malformed or incomplete plan catalog file.
var ErrInvalidCatalog = errors.New("invalid plan catalog")

// catalogFile is the YAML shape of the plan catalog seed. Nil allowances
// mean unlimited, a nil interval means a free plan.
type catalogFile struct {
	Plans []catalogPlan `yaml:"plans"`
}

type catalogPlan struct {
	Name                 string  `yaml:"name"`
	UploadLimitMB        int     `yaml:"upload_limit_mb"`
	TranscriptionMinutes *int    `yaml:"transcription_minutes"`
	SummarizationLimit   *int    `yaml:"summarization_limit"`
	ExportLimit          *int    `yaml:"export_limit"`
	Interval             *string `yaml:"billing_interval"`
	PaddlePriceID        string  `yaml:"paddle_price_id"`
	PremiumTemplates     bool    `yaml:"premium_templates"`
	ArchiveAccess        bool    `yaml:"archive_access"`
}

// LoadCatalog reads and validates the plan catalog file. The catalog must
// contain the Free plan: it is the entitlement of last resort and the
// resolver cannot function without it.
func LoadCatalog(path string) ([]*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	if len(file.Plans) == 0 {
		return nil, fmt.Errorf("%w: no plans defined", ErrInvalidCatalog)
	}

	plans := make([]*Plan, 0, len(file.Plans))
	hasFree := false
	for _, cp := range file.Plans {
		if cp.Name == "" {
			return nil, fmt.Errorf("%w: plan without a name", ErrInvalidCatalog)
		}
		if cp.Interval != nil {
			switch BillingInterval(*cp.Interval) {
			case IntervalMonth, IntervalYear:
			default:
				return nil, fmt.Errorf("%w: plan %q has unknown billing interval %q",
					ErrInvalidCatalog, cp.Name, *cp.Interval)
			}
			if cp.PaddlePriceID == "" {
				return nil, fmt.Errorf("%w: billed plan %q has no paddle price id",
					ErrInvalidCatalog, cp.Name)
			}
		}
		if cp.Name == FreePlanName {
			hasFree = true
		}

		plan := &Plan{
			Name:                 cp.Name,
			UploadLimitMB:        cp.UploadLimitMB,
			TranscriptionMinutes: cp.TranscriptionMinutes,
			SummarizationLimit:   cp.SummarizationLimit,
			ExportLimit:          cp.ExportLimit,
			PaddlePriceID:        cp.PaddlePriceID,
			PremiumTemplates:     cp.PremiumTemplates,
			ArchiveAccess:        cp.ArchiveAccess,
		}
		if cp.Interval != nil {
			bi := BillingInterval(*cp.Interval)
			plan.Interval = &bi
		}
		plans = append(plans, plan)
	}

	if !hasFree {
		return nil, fmt.Errorf("%w: %q plan is missing", ErrInvalidCatalog, FreePlanName)
	}

	return plans, nil
}

// SeedCatalog upserts the catalog file into the plan store. Runs at startup
// as the out-of-band catalog management path; existing rows are updated in
// place and never deleted.
func SeedCatalog(ctx context.Context, store PlanStore, path string) error {
	plans, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	for _, plan := range plans {
		if err := store.Upsert(ctx, plan); err != nil {
			return fmt.Errorf("seed plan %q: %w", plan.Name, err)
		}
	}
	return nil
}
