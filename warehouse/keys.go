package warehouse

// =============================================================================
// SURROGATE KEY ALLOCATION
// =============================================================================

// keyAllocator hands out surrogate keys as current_max + rank within the
// batch. Callers feed it new rows in a stable, deterministic order
// (lexicographic natural key) so that re-running an identical batch against
// the same dimension state assigns identical keys.
//
// Safe only under the single-writer assumption: concurrent writers would
// race on current_max and are excluded by construction, not by this
// algorithm.
type keyAllocator struct {
	next int64
}

func newKeyAllocator(currentMax int64) *keyAllocator {
	return &keyAllocator{next: currentMax + 1}
}

// Next returns the next surrogate key. Keys are consecutive within a batch
// and never reused across batches.
func (a *keyAllocator) Next() int64 {
	k := a.next
	a.next++
	return k
}

// maxServiceKey returns the highest surrogate key currently assigned in the
// service dimension, or 0 when the dimension is empty.
func maxServiceKey(services []Service) int64 {
	var max int64
	for _, s := range services {
		if s.Key > max {
			max = s.Key
		}
	}
	return max
}

// maxCustomerKey returns the highest surrogate key across all customer
// versions (current and expired), or 0 when the dimension is empty.
// Expired versions keep their keys forever, so the scan must cover the
// full history, not just current rows.
func maxCustomerKey(versions []CustomerVersion) int64 {
	var max int64
	for _, v := range versions {
		if v.Key > max {
			max = v.Key
		}
	}
	return max
}
