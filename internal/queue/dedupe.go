package queue

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"time"
)

// dedupeWindow buckets dedupe keys by hour so a completed batch does not block
// the same logical trigger forever; within the bucket the pending/running check
// in Enqueue is what prevents duplicates.
const dedupeWindow = "2006010215"

// DedupeKey derives a stable key for enqueue idempotency in the form
// stage:signature:timeWindow.
func DedupeKey(stage Stage, signature string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", stage, signature, at.UTC().Format(dedupeWindow))
}

// ItemSignature produces a stable short signature for a set of content item
// identifiers, independent of their order.
func ItemSignature(ids []int64) string {
	if len(ids) == 0 {
		return "empty"
	}
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	h := fnv.New64a()
	for _, id := range sorted {
		h.Write([]byte(strconv.FormatInt(id, 10)))
		h.Write([]byte{':'})
	}
	return fmt.Sprintf("items-%x", h.Sum64())
}
