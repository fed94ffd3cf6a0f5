package engine

import (
	"sort"

	"github.com/Ramsey-B/clover/pkg/bucket"
	"github.com/Ramsey-B/clover/pkg/models"
)

// selectVariant picks a variant for an in-rollout user. The inclusion
// decision is sticky (bucketed); the draw within the rollout is fresh per
// evaluation unless the config opts into sticky variants, in which case the
// draw is derived from a salted bucket of the user id.
func (e *Engine) selectVariant(snap *models.Snapshot, user models.UserContext) string {
	variants := snap.Variants

	if len(variants) == 0 {
		if snap.Flag.FlagType == models.FlagTypeBoolean {
			return "true"
		}
		return snap.Config.DefaultVariant
	}

	total := 0
	for _, v := range variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total == 0 {
		return firstVariantKey(variants)
	}

	var draw float64
	if snap.Config.StickyVariants() {
		draw = StickyDraw(user.Identifier(), snap.Flag.Key) * float64(total)
	} else {
		draw = e.randFloat() * float64(total)
	}

	cumulative := 0
	for _, v := range variants {
		if v.Weight <= 0 {
			continue
		}
		cumulative += v.Weight
		if float64(cumulative) > draw {
			return v.VariantKey
		}
	}

	return firstVariantKey(variants)
}

// StickyDraw maps the user onto [0,1) from a salted fingerprint, so a user's
// variant within a rollout is stable across evaluations and processes.
func StickyDraw(id, flagKey string) float64 {
	return float64(bucket.Fingerprint(id, flagKey+":variant")) / float64(1<<32)
}

func firstVariantKey(variants []models.Variant) string {
	keys := make([]string, len(variants))
	for i, v := range variants {
		keys[i] = v.VariantKey
	}
	sort.Strings(keys)
	return keys[0]
}
