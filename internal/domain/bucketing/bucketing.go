// Package bucketing implements deterministic subject-to-variant selection.
//
// Selection is a keyed hash reduced onto the cumulative weight line: the
// same (salt, subject key) pair always lands on the same variant, and over
// many subjects the observed variant frequencies converge to the configured
// weight ratios. The hash layout (SHA-256 of "salt:subjectKey", first four
// bytes big-endian, mod total weight) must never change for a live
// experiment, since changing it reshuffles all future assignments.
package bucketing

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/javimosch/superbackend-sub004/internal/domain/model"
)

// SubjectKey builds the canonical cache/store key for a subject within an
// org scope. The org part is normalized (lowercased, "global" sentinel for
// empty) so a global experiment buckets a subject identically regardless of
// the caller's org context.
func SubjectKey(orgID, subjectID string) string {
	return model.NormalizeOrg(orgID) + "::" + subjectID
}

// Position derives a uniformly distributed integer in [0, total) from the
// keyed hash of the subject key.
func Position(salt, subjectKey string, total int) int {
	sum := sha256.Sum256([]byte(salt + ":" + subjectKey))
	pos := binary.BigEndian.Uint32(sum[:4])
	return int(pos % uint32(total))
}

// Pick selects a variant for subjectKey among the variants with positive
// weight. It reports false when no eligible weight exists, in which case
// assignment must fail rather than guess.
func Pick(variants []model.Variant, salt, subjectKey string) (model.Variant, bool) {
	total := 0
	for _, v := range variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total <= 0 {
		return model.Variant{}, false
	}

	pos := Position(salt, subjectKey, total)

	// Walk variants in declaration order accumulating weight; the first
	// variant whose cumulative weight exceeds pos wins.
	acc := 0
	for _, v := range variants {
		if v.Weight <= 0 {
			continue
		}
		acc += v.Weight
		if pos < acc {
			return v, true
		}
	}
	// Unreachable while pos < total holds.
	return model.Variant{}, false
}
