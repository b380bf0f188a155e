// Package nodeconfig implements C2 (hierarchical node store), C3
// (effective-config engine), and C4 (integration registry).
package nodeconfig

// PatchMerge applies an RFC-7396-style JSON merge patch to current (§4.C2):
// null values in patch delete the corresponding key, objects recurse, and
// any other value (including arrays) replaces the current value wholesale.
// current and patch are both decoded from json.RawMessage into
// map[string]any by the caller; current may be nil for a first write.
func PatchMerge(current map[string]any, patch map[string]any) map[string]any {
	if current == nil {
		current = map[string]any{}
	}
	out := make(map[string]any, len(current))
	for k, v := range current {
		out[k] = v
	}

	for k, pv := range patch {
		if pv == nil {
			delete(out, k)
			continue
		}
		if pm, ok := pv.(map[string]any); ok {
			var cm map[string]any
			if existing, ok := out[k].(map[string]any); ok {
				cm = existing
			}
			out[k] = PatchMerge(cm, pm)
			continue
		}
		out[k] = pv
	}
	return out
}

// DeepMerge folds two config documents per §4.C3: dict ⊕ dict recurses
// key-wise; scalar ⊕ scalar and list ⊕ list both let right win/replace;
// null ⊕ x = x; x ⊕ null = null (an explicit deletion that survives into
// the effective view, since there are no control keys to resurrect it).
func DeepMerge(left, right any) any {
	if right == nil {
		return nil
	}
	if left == nil {
		return right
	}

	leftMap, leftIsMap := left.(map[string]any)
	rightMap, rightIsMap := right.(map[string]any)
	if leftIsMap && rightIsMap {
		out := make(map[string]any, len(leftMap)+len(rightMap))
		for k, v := range leftMap {
			out[k] = v
		}
		for k, rv := range rightMap {
			if lv, ok := out[k]; ok {
				out[k] = DeepMerge(lv, rv)
			} else {
				out[k] = rv
			}
		}
		return out
	}

	// Scalar/scalar, list/list, or mismatched-kind: right replaces left.
	return right
}

// FoldChain deep-merges a sequence of config documents left to right,
// ancestor (org) first and the resolving node last (§4.C3).
func FoldChain(docs []map[string]any) map[string]any {
	var acc any = map[string]any{}
	for _, d := range docs {
		acc = DeepMerge(acc, map[string]any(d))
	}
	merged, _ := acc.(map[string]any)
	if merged == nil {
		merged = map[string]any{}
	}
	return merged
}
