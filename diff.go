package mvccdb

import jsonpatch "github.com/evanphx/json-patch"

// Diff is an RFC 7396 JSON Merge Patch between two document bodies.
// ComputeDiff and Apply are standalone helpers: the updater does not compute
// diffs and notify.Event carries none.
type Diff struct {
	MergePatch []byte
}

// ComputeDiff derives the merge patch that turns oldBody into newBody.
func ComputeDiff(oldBody, newBody []byte) (Diff, error) {
	patch, err := jsonpatch.CreateMergePatch(oldBody, newBody)
	if err != nil {
		return Diff{}, err
	}
	return Diff{MergePatch: patch}, nil
}

// Apply reconstructs newBody by applying the diff to oldBody.
func (d Diff) Apply(oldBody []byte) ([]byte, error) {
	return jsonpatch.MergePatch(oldBody, d.MergePatch)
}
