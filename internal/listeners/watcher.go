package listeners

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/devloop/internal/events"
	ferrors "git.home.luguber.info/inful/devloop/internal/foundation/errors"
	"git.home.luguber.info/inful/devloop/internal/logfields"
)

// SourceWatcherConfig configures recursive source-tree watching.
type SourceWatcherConfig struct {
	// Roots are the directories watched recursively.
	Roots []string
	// Ignore holds glob patterns matched against path base names.
	// Matching files and directories are skipped entirely.
	Ignore []string
	// Coalesce is the window within which raw filesystem events are
	// merged into one SourceFileChanged event with deduplicated paths.
	Coalesce time.Duration
}

// SourceWatcher watches the source roots and publishes coalesced
// SourceFileChanged events. Directories created while watching are added to
// the watch set; paths are deduplicated within a coalescing window but never
// across windows.
type SourceWatcher struct {
	cfg SourceWatcherConfig
	bus *events.Bus
}

func NewSourceWatcher(cfg SourceWatcherConfig, bus *events.Bus) (*SourceWatcher, error) {
	if bus == nil {
		return nil, ferrors.ValidationError("bus is required").Build()
	}
	if len(cfg.Roots) == 0 {
		return nil, ferrors.ValidationError("at least one watch root is required").Build()
	}
	if cfg.Coalesce <= 0 {
		cfg.Coalesce = 100 * time.Millisecond
	}
	return &SourceWatcher{cfg: cfg, bus: bus}, nil
}

func (w *SourceWatcher) Name() string { return "source-watcher" }

// Run watches until ctx is canceled. Watcher errors are logged, not fatal:
// a dropped inotify event degrades freshness, not correctness, because the
// next change re-marks the dirty flag.
func (w *SourceWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryListener, "failed to create file watcher").Build()
	}
	defer func() { _ = watcher.Close() }()

	for _, root := range w.cfg.Roots {
		if err := w.addRecursive(watcher, root); err != nil {
			return err
		}
	}

	slog.Info("Source watcher started",
		slog.Int("roots", len(w.cfg.Roots)), slog.Duration("coalesce", w.cfg.Coalesce))

	flushTimer := time.NewTimer(time.Hour)
	if !flushTimer.Stop() {
		<-flushTimer.C
	}
	var flushC <-chan time.Time
	pending := make(map[string]struct{})

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		pending = make(map[string]struct{})

		evt := events.SourceFileChanged{Paths: paths, ChangedAt: time.Now()}
		if err := w.bus.Publish(ctx, evt); err != nil && ctx.Err() == nil {
			slog.Warn("Failed to publish file change event",
				logfields.Paths(len(paths)), logfields.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return ferrors.ListenerError("file watcher closed").Build()
			}
			if w.ignored(event.Name) {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				// New directories must join the watch set before anything
				// inside them changes.
				if err := w.addRecursive(watcher, event.Name); err != nil {
					slog.Debug("Could not extend watch set", slog.String("path", event.Name))
				}
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
				!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			pending[event.Name] = struct{}{}
			if flushC == nil {
				flushTimer.Reset(w.cfg.Coalesce)
				flushC = flushTimer.C
			}

		case <-flushC:
			flushC = nil
			flush()

		case err, ok := <-watcher.Errors:
			if !ok {
				return ferrors.ListenerError("file watcher error channel closed").Build()
			}
			slog.Warn("File watcher error", logfields.Error(err))
		}
	}
}

// addRecursive adds path and every non-ignored directory under it. Missing
// paths and plain files are tolerated: Create events arrive for files too.
func (w *SourceWatcher) addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return ferrors.WrapError(err, ferrors.CategoryListener, "failed to walk watch root").
					WithContext("root", root).Build()
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if addErr := watcher.Add(path); addErr != nil {
			slog.Debug("Could not watch directory", slog.String("path", path))
		}
		return nil
	})
}

func (w *SourceWatcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.cfg.Ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
