package queue

import "fmt"

// JobID builds the deterministic queue id for one (trace, evaluator) pair.
// Scheduling the same pair always resolves to the same job record, which is
// what makes scheduling idempotent.
func JobID(traceID, evaluatorID, projectID string) string {
	return fmt.Sprintf("check_%s/%s/%s", projectID, traceID, evaluatorID)
}

func jobKey(id string) string {
	return "evalq:job:" + id
}

const (
	delayedKey = "evalq:delayed"
	waitingKey = "evalq:waiting"
)

// RateLimitKey namespaces per-caller request counters.
func RateLimitKey(caller string) string {
	return fmt.Sprintf("ratelimit:%s", caller)
}
