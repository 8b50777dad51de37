package collector

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"trustd/internal/logger"
	"trustd/pkg/models"
)

// Path fragments that mark scratch files not worth an event.
var skipMarkers = []string{".tmp", ".log", ".cache", ".swp"}

var highRiskPaths = []string{"/etc/passwd", "/etc/shadow", "/etc/sudoers", "/etc/ssh"}
var mediumRiskPrefixes = []string{"/etc", "/home"}

// fsWatch wraps the fsnotify watcher. fsnotify delivers notifications
// on its own goroutine; run drains that channel on a collector
// goroutine, which is the only cross-thread handoff in the collector.
type fsWatch struct {
	watcher *fsnotify.Watcher
	root    string
	emit    emitFunc
}

// newFSWatch watches the first existing root from the candidate list,
// recursively. Returns nil (no watch, no error) when no root exists.
func newFSWatch(roots []string, emit emitFunc) (*fsWatch, error) {
	root := ""
	for _, candidate := range roots {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			root = candidate
			break
		}
	}
	if root == "" {
		logger.Warnf("No watchable directory among %v; file monitoring disabled", roots)
		return nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &fsWatch{watcher: watcher, root: root, emit: emit}
	if err := w.addRecursive(root); err != nil {
		watcher.Close()
		return nil, err
	}

	logger.Infof("Started monitoring %s", root)
	return w, nil
}

// addRecursive registers root and every subdirectory beneath it.
// Unreadable subtrees are skipped, not fatal.
func (w *fsWatch) addRecursive(root string) error {
	if err := w.watcher.Add(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			return fs.SkipDir
		}
		if entry.IsDir() && path != root {
			if err := w.watcher.Add(path); err != nil {
				logger.Debugf("Cannot watch %s: %v", path, err)
				return fs.SkipDir
			}
		}
		return nil
	})
}

// run drains watcher notifications until the context ends or the
// watcher channel closes.
func (w *fsWatch) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Errorf("File watcher error: %v", err)
		}
	}
}

func (w *fsWatch) handle(event fsnotify.Event) {
	changeType := ""
	switch {
	case event.Op.Has(fsnotify.Create):
		changeType = "created"
		// New directories need their own watch for recursion to hold.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				logger.Debugf("Cannot watch new directory %s: %v", event.Name, err)
			}
			return
		}
	case event.Op.Has(fsnotify.Write):
		changeType = "modified"
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		changeType = "deleted"
	default:
		return
	}

	path := event.Name
	for _, marker := range skipMarkers {
		if strings.Contains(path, marker) {
			return
		}
	}

	w.emit(models.FileChange, map[string]any{
		"change_type": changeType,
		"file_path":   path,
		"file_size":   fileSize(path),
		"severity":    fileChangeSeverity(path),
	})
}

func (w *fsWatch) close() {
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// fileChangeSeverity rates a changed path on the 1-10 scale: 8 for
// credential and SSH configuration files, 5 under broader sensitive
// prefixes, 2 elsewhere.
func fileChangeSeverity(path string) int {
	for _, risk := range highRiskPaths {
		if strings.Contains(path, risk) {
			return 8
		}
	}
	for _, prefix := range mediumRiskPrefixes {
		if strings.HasPrefix(path, prefix) {
			return 5
		}
	}
	return 2
}
