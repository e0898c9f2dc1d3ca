package syncer

import (
	"sort"

	"github.com/adolab/worklens/internal/tracker"
)

// DiffIDs computes the id-level change sets between the remote and
// local views of a scope: ids only remote has (new), ids only the
// local mirror has (deleted), and ids present on both sides
// (candidates for watermark comparison). Results are sorted so runs
// are deterministic and batch requests are stable.
func DiffIDs(remote, local []int) (newIDs, deletedIDs, candidates []int) {
	remoteSet := make(map[int]struct{}, len(remote))
	for _, id := range remote {
		remoteSet[id] = struct{}{}
	}
	localSet := make(map[int]struct{}, len(local))
	for _, id := range local {
		localSet[id] = struct{}{}
	}

	for id := range remoteSet {
		if _, ok := localSet[id]; ok {
			candidates = append(candidates, id)
		} else {
			newIDs = append(newIDs, id)
		}
	}
	for id := range localSet {
		if _, ok := remoteSet[id]; !ok {
			deletedIDs = append(deletedIDs, id)
		}
	}

	sort.Ints(newIDs)
	sort.Ints(deletedIDs)
	sort.Ints(candidates)
	return newIDs, deletedIDs, candidates
}

// ChangedByWatermark selects the candidate ids whose remote watermark
// differs from the stored one. An id with no stored watermark counts
// as changed: without a fingerprint there is no cheap way to prove the
// item is current.
func ChangedByWatermark(lightweight []tracker.ItemSnapshot, stored map[int]int) []int {
	var changed []int
	for _, snap := range lightweight {
		remoteWM := snap.Watermark()
		localWM, ok := stored[snap.ID]
		if !ok || remoteWM == nil || *remoteWM != localWM {
			changed = append(changed, snap.ID)
		}
	}
	sort.Ints(changed)
	return changed
}

// union merges two sorted id slices, deduplicating.
func union(a, b []int) []int {
	seen := make(map[int]struct{}, len(a)+len(b))
	var out []int
	for _, s := range [][]int{a, b} {
		for _, id := range s {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}
