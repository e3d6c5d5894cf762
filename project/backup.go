package project

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"

	"dieseq/debug"
	"dieseq/timeline"
)

// DefaultBackupCount is how many backups are kept per document
const DefaultBackupCount = 20

const backupStamp = "2006-01-02_15-04-05"

// BackupInfo is one timestamped backup file
type BackupInfo struct {
	Filename  string
	Path      string
	Timestamp time.Time
}

// BackupsDir returns ~/.config/dieseq/backups/<name>
func BackupsDir(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if name == "" {
		name = "untitled"
	}
	return filepath.Join(home, ".config", "dieseq", "backups", name), nil
}

// BackupName derives the backup folder name from a document path
func BackupName(docPath string) string {
	base := filepath.Base(docPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ListBackups returns the backups of a document, newest first
func ListBackups(name string) ([]BackupInfo, error) {
	dir, err := BackupsDir(name)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []BackupInfo{}, nil
		}
		return nil, err
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fname := entry.Name()
		stem := strings.TrimSuffix(fname, filepath.Ext(fname))
		if len(stem) < len(backupStamp) {
			continue
		}
		ts, err := time.ParseInLocation(backupStamp, stem[:len(backupStamp)], time.Local)
		if err != nil {
			// not ours
			continue
		}
		backups = append(backups, BackupInfo{
			Filename:  fname,
			Path:      filepath.Join(dir, fname),
			Timestamp: ts,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Backup writes doc as a JSON backup stamped with at, then prunes the folder
// down to keep files. keep <= 0 keeps everything.
func Backup(name string, doc *Document, at time.Time, keep int) (string, error) {
	dir, err := BackupsDir(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, at.Format(backupStamp)+JSON.Ext())
	if err := Save(path, doc); err != nil {
		return "", err
	}
	if keep > 0 {
		if err := PruneBackups(name, keep); err != nil {
			debug.Warn("backup", err, debug.Fields{"name": name})
		}
	}
	return path, nil
}

// PruneBackups deletes all but the newest keep backups
func PruneBackups(name string, keep int) error {
	backups, err := ListBackups(name)
	if err != nil {
		return err
	}
	for i := keep; i < len(backups); i++ {
		if err := os.Remove(backups[i].Path); err != nil {
			return err
		}
		debug.Log("backup", "pruned %s", backups[i].Filename)
	}
	return nil
}

// Autosaver writes a backup shortly after the store stops changing
type Autosaver struct {
	store    *timeline.Store
	name     string
	keep     int
	snapshot func() *Document
	changes  <-chan struct{}

	debounced func(func())

	mu    sync.Mutex
	saved uint64 // store version of the last backup
}

// NewAutosaver backs up store under name once edits have been quiet for
// delay. snapshot builds the document to write; nil saves the timeline alone.
func NewAutosaver(store *timeline.Store, name string, delay time.Duration, keep int, snapshot func() *Document) *Autosaver {
	if snapshot == nil {
		snapshot = func() *Document {
			return &Document{Timeline: store.Snapshot()}
		}
	}
	return &Autosaver{
		store:     store,
		name:      name,
		keep:      keep,
		snapshot:  snapshot,
		changes:   store.Watch(),
		debounced: debounce.New(delay),
		saved:     store.Version(),
	}
}

// Run watches the store until ctx is done, then writes a final backup if
// anything changed since the last one
func (a *Autosaver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.backup()
			return
		case <-a.changes:
			a.debounced(a.backup)
		}
	}
}

func (a *Autosaver) backup() {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := a.store.Version()
	if v == a.saved {
		return
	}
	path, err := Backup(a.name, a.snapshot(), time.Now(), a.keep)
	if err != nil {
		debug.Warn("backup", err, debug.Fields{"name": a.name})
		return
	}
	a.saved = v
	debug.Log("backup", "wrote %s", path)
}
