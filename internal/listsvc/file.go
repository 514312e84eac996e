package listsvc

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ruleflow/engine/pkg/value"
)

// FileService is the file backend from spec.md §4.8: one list per file
// (`<list_id>.txt` under Dir), one entry per line, `#`-prefixed comments
// ignored, reloaded on a hot-reload interval and on an fsnotify write event
// — whichever fires first. Grounded on the teacher's rule_store_disk.go
// hot-reload shape, generalized from one YAML document to a directory of
// flat value lists.
type FileService struct {
	dir string

	mu   sync.RWMutex
	sets map[string][]value.Value

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileService loads every `*.txt` file under dir as a named list (file
// stem = list id) and starts a background watcher that reloads a file when
// fsnotify reports a write, or unconditionally every reloadInterval as a
// fallback for filesystems where fsnotify doesn't fire (network mounts).
func NewFileService(dir string, reloadInterval time.Duration) (*FileService, error) {
	f := &FileService{dir: dir, sets: map[string][]value.Value{}, done: make(chan struct{})}
	if err := f.loadAll(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(dir); werr == nil {
			f.watcher = watcher
			go f.watchLoop()
		} else {
			watcher.Close()
		}
	}

	if reloadInterval > 0 {
		go f.pollLoop(reloadInterval)
	}
	return f, nil
}

func (f *FileService) watchLoop() {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_ = f.loadOne(event.Name)
			}
		case <-f.watcher.Errors:
		case <-f.done:
			return
		}
	}
}

func (f *FileService) pollLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = f.loadAll()
		case <-f.done:
			return
		}
	}
}

// Close stops the background watcher goroutines.
func (f *FileService) Close() error {
	close(f.done)
	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}

func (f *FileService) loadAll() error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		if err := f.loadOne(filepath.Join(f.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileService) loadOne(path string) error {
	if !strings.HasSuffix(path, ".txt") {
		return nil
	}
	listID := strings.TrimSuffix(filepath.Base(path), ".txt")
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var items []value.Value
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, value.String(line))
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	f.sets[listID] = items
	f.mu.Unlock()
	return nil
}

func (f *FileService) Contains(_ context.Context, listID string, v value.Value) (bool, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	items, ok := f.sets[listID]
	if !ok {
		return false, false
	}
	return value.Contains(value.Array(items), v), true
}

func (f *FileService) GetAll(listID string) ([]value.Value, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	items, ok := f.sets[listID]
	if !ok {
		return nil, false
	}
	return append([]value.Value{}, items...), true
}

// Add appends v to listID's file and its in-memory set. The file backend is
// line-oriented, so appends and removes rewrite the whole file rather than
// patching in place — fine at list-sized (not request-sized) volumes.
func (f *FileService) Add(_ context.Context, listID string, v value.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sets[listID] {
		if value.Equal(existing, v) {
			return nil
		}
	}
	f.sets[listID] = append(f.sets[listID], v)
	return f.writeLocked(listID)
}

func (f *FileService) Remove(_ context.Context, listID string, v value.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.sets[listID]
	out := items[:0]
	for _, existing := range items {
		if !value.Equal(existing, v) {
			out = append(out, existing)
		}
	}
	f.sets[listID] = out
	return f.writeLocked(listID)
}

// writeLocked must be called with f.mu held.
func (f *FileService) writeLocked(listID string) error {
	path := filepath.Join(f.dir, listID+".txt")
	var b strings.Builder
	for _, item := range f.sets[listID] {
		b.WriteString(value.ToDisplayString(item))
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
