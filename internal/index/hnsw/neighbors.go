package hnsw

// pruneRRNG implements the relative-neighborhood-graph edge rule spec §4.5
// names for both initial neighbor selection and back-edge re-pruning: "scan
// candidates in ascending distance, admit one iff no already-admitted
// neighbor is closer to it than the query; truncate to size_of_layer(m, i)".
//
// candidates must already be sorted ascending by distance to the owner
// (the new node during insertion, or the neighbor being re-pruned during
// back-edge insertion) — that distance is candidates[i].distance. dist
// computes the distance between two existing graph nodes, used to compare
// an already-admitted neighbor against the next candidate.
//
// This replaces the teacher's selectWithSimpleHeuristic (neighbors.go),
// which admits a candidate whenever its distance is within 80% of the
// farthest already-admitted neighbor's distance — an ad hoc diversity
// heuristic, not the RRNG rule the spec requires.
func pruneRRNG(candidates []edge, cap int, dist func(a, b uint32) float32) []edge {
	admitted := make([]edge, 0, cap)
	for _, cand := range candidates {
		if len(admitted) >= cap {
			break
		}
		admit := true
		for _, adm := range admitted {
			if dist(adm.neighbor, cand.neighbor) < cand.distance {
				admit = false
				break
			}
		}
		if admit {
			admitted = append(admitted, cand)
		}
	}
	return admitted
}
