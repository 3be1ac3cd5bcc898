package wortree

import "github.com/hagenbeck/vctree/internal/stage"

// Stage records the pending change for each path in paths as staged,
// optionally reviewed hunk by hunk through patch (nil stages whole
// files). Persists the index on success.
func (w *WorkTree) Stage(paths []string, patch stage.PatchFunc) ([]stage.Result, error) {
	res, err := stage.Stage(w.blobs, w.Index, w.Root(), paths, patch)
	if err != nil {
		return nil, err
	}
	if err := w.SaveIndex(); err != nil {
		return res, err
	}
	return res, nil
}

// Unstage reverses staging for each path in paths, optionally reviewed
// hunk by hunk through patch (nil unstages the whole change). Persists
// the index on success.
func (w *WorkTree) Unstage(paths []string, patch stage.PatchFunc) ([]stage.Result, error) {
	res, err := stage.Unstage(w.blobs, w.Index, w.Root(), paths, patch)
	if err != nil {
		return nil, err
	}
	if err := w.SaveIndex(); err != nil {
		return res, err
	}
	return res, nil
}
