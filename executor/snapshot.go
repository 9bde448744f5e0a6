/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package executor

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/PivotLLM/Planwright/global"
)

type fileState struct {
	size    int64
	modTime time.Time
}

// snapshot maps the slash-separated paths of the regular files under dir to
// their size and modification time. A missing dir is an empty snapshot.
func snapshot(dir string) (map[string]fileState, error) {
	files := make(map[string]fileState)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return fs.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = fileState{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	return files, err
}

// diff lists the files that are new or changed in after, as paths relative to
// the output directory, sorted
func diff(before, after map[string]fileState) []string {
	var changed []string
	for rel, state := range after {
		if prev, ok := before[rel]; ok && prev.size == state.size && prev.modTime.Equal(state.modTime) {
			continue
		}
		changed = append(changed, global.ResultsDir+"/"+rel)
	}
	sort.Strings(changed)
	return changed
}
