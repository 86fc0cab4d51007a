package imdb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/handsomefox/tvratings/internal/logger"
	"github.com/handsomefox/tvratings/internal/store"
)

const SnapshotExt = ".snap"

// DateString renders t as the yyyyMMdd UTC snapshot name.
func DateString(t time.Time) string {
	return t.UTC().Format("20060102")
}

// Notifier is invoked after a new snapshot goes live, with the freshly
// promoted catalog and the path of the snapshot it replaced.
type Notifier func(current *store.Catalog, previousPath string)

// Updater owns the live catalog snapshot. It builds a fresh snapshot once per
// day (and at startup when the latest one on disk is stale), swaps it in
// atomically, and hands the old/new pair to the notifier for diffing. Readers
// grab the live catalog through Current and never see a half-built snapshot.
type Updater struct {
	dir      string
	importer *Importer
	enabled  bool

	current  atomic.Pointer[store.Catalog]
	previous atomic.Pointer[string]
	notify   Notifier
}

func NewUpdater(dir string, importer *Importer, enabled bool) *Updater {
	return &Updater{
		dir:      dir,
		importer: importer,
		enabled:  enabled,
	}
}

// SetNotifier must be called before Start.
func (u *Updater) SetNotifier(fn Notifier) { u.notify = fn }

// Current returns the live catalog.
func (u *Updater) Current() *store.Catalog { return u.current.Load() }

// PreviousPath returns the path of the snapshot replaced by the last
// promotion, or "" when no promotion happened yet.
func (u *Updater) PreviousPath() string {
	if p := u.previous.Load(); p != nil {
		return *p
	}
	return ""
}

// Start makes a catalog available for serving:
//   - no snapshot on disk: build one synchronously, requests wait until done
//   - latest snapshot is stale: serve it now, rebuild in the background
//   - latest snapshot is from today: just serve it
//
// It then schedules the daily rebuild. Background updates respect the enabled
// flag; serving an existing snapshot does not.
func (u *Updater) Start(ctx context.Context) error {
	if err := os.MkdirAll(u.dir, 0o750); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	latest, err := u.latestSnapshot()
	if err != nil {
		return err
	}
	today := filepath.Join(u.dir, DateString(time.Now())+SnapshotExt)

	switch {
	case latest == "":
		slog.Info("no catalog snapshot found, building one")
		catalog, err := u.build(ctx, today)
		if err != nil {
			return fmt.Errorf("initial import: %w", err)
		}
		u.current.Store(catalog)
	case latest != today:
		slog.Info("catalog snapshot is stale", slog.String("snapshot", latest))
		catalog := store.NewCatalog(latest)
		if err := catalog.Connect(ctx); err != nil {
			return fmt.Errorf("opening snapshot %s: %w", latest, err)
		}
		u.current.Store(catalog)
		if u.enabled {
			go u.rebuild(ctx, today)
		}
	default:
		catalog := store.NewCatalog(latest)
		if err := catalog.Connect(ctx); err != nil {
			return fmt.Errorf("opening snapshot %s: %w", latest, err)
		}
		u.current.Store(catalog)
	}

	if u.enabled {
		go u.runDaily(ctx)
	}
	return nil
}

// Stop disconnects the live catalog.
func (u *Updater) Stop() error {
	if catalog := u.current.Swap(nil); catalog != nil {
		return catalog.Disconnect()
	}
	return nil
}

func (u *Updater) latestSnapshot() (string, error) {
	entries, err := os.ReadDir(u.dir)
	if err != nil {
		return "", fmt.Errorf("reading snapshot dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), SnapshotExt) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	// Names are dates, so lexicographic max is the most recent.
	sort.Strings(names)
	return filepath.Join(u.dir, names[len(names)-1]), nil
}

func (u *Updater) runDaily(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(nextUpdateDelay(time.Now())):
		}
		u.rebuild(ctx, filepath.Join(u.dir, DateString(time.Now())+SnapshotExt))
	}
}

// nextUpdateDelay returns the time until shortly past the next UTC midnight,
// when the upstream datasets have been regenerated.
func nextUpdateDelay(now time.Time) time.Duration {
	const day = 24 * time.Hour
	elapsed := now.UTC().Sub(now.UTC().Truncate(day))
	return day - elapsed + time.Minute
}

// Rebuild builds a snapshot for today and promotes it. Used by the console.
func (u *Updater) Rebuild(ctx context.Context) {
	u.rebuild(ctx, filepath.Join(u.dir, DateString(time.Now())+SnapshotExt))
}

// rebuild builds a fresh snapshot at path and promotes it on success. On
// failure the currently live snapshot keeps serving.
func (u *Updater) rebuild(ctx context.Context, path string) {
	if live := u.Current(); live != nil && live.Path() == path {
		slog.Info("snapshot is already live, skipping rebuild", slog.String("snapshot", path))
		return
	}
	catalog, err := u.build(ctx, path)
	if err != nil {
		slog.Error("snapshot rebuild failed, keeping the live one", logger.Error(err))
		return
	}
	u.promote(catalog)
}

// build imports into a fresh snapshot file at path, removing any leftover
// partial file from an earlier failed attempt first.
func (u *Updater) build(ctx context.Context, path string) (*store.Catalog, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale snapshot: %w", err)
	}
	catalog := store.NewCatalog(path)
	if err := catalog.Connect(ctx); err != nil {
		return nil, err
	}
	if err := u.importer.Run(ctx, catalog); err != nil {
		if derr := catalog.Disconnect(); derr != nil {
			slog.Warn("disconnecting failed snapshot", logger.Error(derr))
		}
		return nil, err
	}
	return catalog, nil
}

// promote swaps the new catalog in, closes the replaced one, and invokes the
// notifier so followers hear about new episodes.
func (u *Updater) promote(catalog *store.Catalog) {
	old := u.current.Swap(catalog)
	slog.Info("promoted catalog snapshot", slog.String("snapshot", catalog.Path()))
	if old == nil {
		return
	}
	oldPath := old.Path()
	u.previous.Store(&oldPath)
	if err := old.Disconnect(); err != nil {
		slog.Warn("disconnecting replaced snapshot", logger.Error(err))
	}
	if u.notify != nil {
		u.notify(catalog, oldPath)
	}
}
