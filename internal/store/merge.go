package store

import "github.com/madhavpai/tracecheck/pkg/models"

// mergeEvaluations applies the replace-or-append rule: the entry matching
// eval.EvaluationID is replaced wholesale, otherwise eval is appended. The
// last full write for an id wins; there is no partial-field patching.
//
// Merge-owned timestamps are the exception to wholesale replace: InsertedAt
// is stamped from UpdatedAt on first insertion and preserved on replace, and
// a replacement without its own StartedAt inherits the existing one so the
// in_progress stamp survives into the terminal row. A fresh "scheduled"
// entry starts a new attempt and inherits nothing.
func mergeEvaluations(existing []models.Evaluation, eval models.Evaluation) []models.Evaluation {
	for i, e := range existing {
		if e.EvaluationID == eval.EvaluationID {
			eval.InsertedAt = e.InsertedAt
			if eval.StartedAt == nil && eval.Status != models.EvaluationStatusScheduled {
				eval.StartedAt = e.StartedAt
			}
			merged := make([]models.Evaluation, len(existing))
			copy(merged, existing)
			merged[i] = eval
			return merged
		}
	}
	eval.InsertedAt = eval.UpdatedAt
	merged := make([]models.Evaluation, 0, len(existing)+1)
	merged = append(merged, existing...)
	merged = append(merged, eval)
	return merged
}
