// Package scan implements the directory scan task: it walks a project tree,
// resolves each entry through the file info cache and reports progress as it
// goes.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/JakeFAU/workbench-tasks/internal/fscache"
	"github.com/JakeFAU/workbench-tasks/internal/task"
)

// Kind is the task kind name used by the API and CLI.
const Kind = "scan"

// Summary is the result of a completed scan.
type Summary struct {
	Root  string `json:"root"`
	Files int    `json:"files"`
	Dirs  int    `json:"dirs"`
	Bytes int64  `json:"bytes"`
	// Vanished counts entries removed between listing and inspection.
	Vanished int `json:"vanished"`
}

// Task returns a task.Func scanning root. The walk itself stops at the first
// cancellation check after a cancel request.
func Task(cache *fscache.Cache, root string) task.Func {
	return func(ctx context.Context, p *task.Progress) (any, error) {
		if cache == nil {
			return nil, errors.New("scan: file cache is required")
		}
		info, err := cache.Info(root)
		if err != nil {
			return nil, err
		}
		if !info.Exists || !info.IsDir {
			return nil, fmt.Errorf("scan: %s is not a directory", root)
		}
		p.ReportMessage(0, "listing "+info.Path)

		paths, err := list(ctx, p, info.Path)
		if err != nil {
			return nil, err
		}

		sum := Summary{Root: info.Path}
		last := -1
		for i, path := range paths {
			if p.Cancelled() {
				return nil, task.ErrCancelled
			}
			fi, err := cache.Info(path)
			if err != nil {
				return nil, err
			}
			switch {
			case !fi.Exists:
				sum.Vanished++
			case fi.IsDir:
				sum.Dirs++
			default:
				sum.Files++
				sum.Bytes += fi.Size
			}
			if pct := (i + 1) * 100 / len(paths); pct != last {
				last = pct
				p.ReportMessage(pct, filepath.Base(path))
			}
		}
		if len(paths) == 0 {
			p.Report(task.MaxProgress)
		}
		return sum, nil
	}
}

func list(ctx context.Context, p *task.Progress, root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if p.Cancelled() {
			return task.ErrCancelled
		}
		if path != root {
			paths = append(paths, path)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return paths, nil
}

// FromParams builds a scan task from API parameters. It requires "dir".
func FromParams(cache *fscache.Cache) func(params map[string]string) (task.Func, error) {
	return func(params map[string]string) (task.Func, error) {
		dir := params["dir"]
		if dir == "" {
			return nil, errors.New("scan requires a dir parameter")
		}
		return Task(cache, dir), nil
	}
}
