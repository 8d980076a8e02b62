// Package clarify builds the option sets offered when the engine has to
// ask the user a clarifying question.
//
// Options are grounded: every non-synthetic option is read from the
// tenant's live data within the request. The one exception is the
// synthetic "all/any" option, appended for aggregate intents only, where
// "across everything" is a meaningful answer.
package clarify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/apperrors"
	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
	"github.com/ledgerchat/ledgerchat-engine/pkg/repositories"
)

// Result is the provider's answer for one clarification demand.
//
// SkipClarification is set when the data store failed: the caller must not
// present an empty prompt as if the tenant had no matching entities, and
// instead proceeds without clarifying.
type Result struct {
	Options           []models.ClarificationOption
	SkipClarification bool
}

// Provider assembles grounded clarification options for a slot.
type Provider interface {
	Options(ctx context.Context, tenantID uuid.UUID, slot, hint string, intent models.Intent) (Result, error)
}

// Config holds provider tuning.
type Config struct {
	OptionLimit   int
	LookupTimeout time.Duration
}

type provider struct {
	lookups repositories.EntityLookupRepository
	cache   OptionCache
	cfg     Config
	logger  *zap.Logger
}

// NewProvider creates a Provider reading options through lookups and
// caching them in cache.
func NewProvider(lookups repositories.EntityLookupRepository, cache OptionCache, cfg Config, logger *zap.Logger) Provider {
	if cfg.OptionLimit <= 0 {
		cfg.OptionLimit = 10
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	return &provider{
		lookups: lookups,
		cache:   cache,
		cfg:     cfg,
		logger:  logger.Named("clarify"),
	}
}

var _ Provider = (*provider)(nil)

// Options returns candidate answers for the slot. Zero options with
// SkipClarification unset is a genuine "no matching entities" answer; the
// caller decides how to degrade.
func (p *provider) Options(ctx context.Context, tenantID uuid.UUID, slot, hint string, intent models.Intent) (Result, error) {
	options, cached := p.cache.Get(ctx, tenantID, slot, hint)
	if !cached {
		lookupCtx, cancel := context.WithTimeout(ctx, p.cfg.LookupTimeout)
		defer cancel()

		var err error
		options, err = p.lookups.FindOptions(lookupCtx, slot, hint, p.cfg.OptionLimit)
		if err != nil {
			if errors.Is(err, apperrors.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
				p.logger.Warn("option lookup unavailable, skipping clarification",
					zap.String("slot", slot),
					zap.Error(err))
				return Result{SkipClarification: true}, nil
			}
			return Result{}, err
		}
		p.cache.Set(ctx, tenantID, slot, hint, options)
	}

	if len(options) == 0 {
		return Result{}, nil
	}

	if intent.IsAggregate() {
		options = append(options, syntheticAllOption(slot))
	}
	return Result{Options: options}, nil
}

// syntheticAllOption is the only option the engine ever constructs itself.
func syntheticAllOption(slot string) models.ClarificationOption {
	return models.ClarificationOption{
		Code:        models.SyntheticAllCode,
		DisplayName: "All " + pluralSlotName(slot),
		Category:    models.CategorySynthetic,
	}
}

func pluralSlotName(slot string) string {
	switch slot {
	case models.SlotProject:
		return "projects"
	case models.SlotCategory:
		return "categories"
	case models.SlotCounterparty:
		return "counterparties"
	default:
		return slot + "s"
	}
}
