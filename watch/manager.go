// Package watch implements the Watch Manager of spec §4.7: it
// registers directories with the OS change-notification facility,
// normalizes native events into FileChangeEvent, batches and debounces
// them, and forwards them to listeners (typically feeding the Directory
// Scanner with incremental descriptors).
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/blake3vault/scancore/internal/clock"
	"github.com/blake3vault/scancore/logging"
	"github.com/blake3vault/scancore/scanerr"
)

var log = logging.Module("watch")

// EventListener receives a coalesced batch for one registration.
type EventListener interface {
	OnBatch(registrationID string, events []FileChangeEvent)
}

// EventListenerFunc adapts a plain function to EventListener.
type EventListenerFunc func(registrationID string, events []FileChangeEvent)

func (f EventListenerFunc) OnBatch(registrationID string, events []FileChangeEvent) {
	f(registrationID, events)
}

// RescanFunc is invoked with a registration's root after an OVERFLOW
// event, standing in for "schedule a full rescan via the Scanner"
// (§4.7 Overflow). Typically wraps a *scanner.Scanner's Scan method.
type RescanFunc func(ctx context.Context, root string)

// Manager is the Watch Manager. The zero value is not usable; build one
// with NewManager.
type Manager struct {
	watcher *fsnotify.Watcher
	rescan  RescanFunc

	mu   sync.RWMutex
	regs map[string]*registration

	listenersMu sync.Mutex
	listeners   []EventListener

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewManager starts a Manager backed by the OS notification facility.
// rescan may be nil if overflow-triggered rescans are not needed.
func NewManager(rescan RescanFunc) (*Manager, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, scanerr.Wrap(err, "create fsnotify watcher")
	}

	m := &Manager{
		watcher: w,
		rescan:  rescan,
		regs:    make(map[string]*registration),
		closeCh: make(chan struct{}),
	}

	go m.loop()

	return m, nil
}

// OnEvent subscribes l to every future batch across all registrations.
func (m *Manager) OnEvent(l EventListener) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, l)
	m.listenersMu.Unlock()
}

// Register attaches a watch to path, walking its subtree once when
// recursive is requested (§4.7 Registration lifecycle).
func (m *Manager) Register(path string, opts RegisterOptions) (string, error) {
	opts = opts.withDefaults()

	info, err := os.Stat(path)
	if err != nil {
		return "", scanerr.New(scanerr.NotFound, path, err)
	}

	id := uuid.NewString()
	reg := newRegistration(id, path, opts)

	if info.IsDir() && opts.Recursive {
		err = filepath.WalkDir(path, func(sub string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if d.IsDir() {
				if werr := m.watcher.Add(sub); werr != nil {
					return werr
				}

				reg.addDir(sub)
			}

			return nil
		})
	} else if info.IsDir() {
		err = m.watcher.Add(path)
		if err == nil {
			reg.addDir(path)
		}
	} else {
		err = m.watcher.Add(filepath.Dir(path))
		if err == nil {
			reg.addDir(filepath.Dir(path))
		}
	}

	if err != nil {
		return "", scanerr.New(scanerr.IOFailure, path, err)
	}

	m.mu.Lock()
	m.regs[id] = reg
	m.mu.Unlock()

	return id, nil
}

// Deactivate flips the registration inactive and detaches its
// watchers. Safe to call concurrently and idempotent in effect — a
// second call for the same id changes nothing and returns NotFound,
// since the first call removed the registration (§4.7 deactivate).
func (m *Manager) Deactivate(id string) error {
	m.mu.Lock()
	reg, ok := m.regs[id]
	if ok {
		delete(m.regs, id)
	}
	m.mu.Unlock()

	if !ok {
		return scanerr.New(scanerr.NotFound, id, nil)
	}

	if !reg.deactivate() {
		return nil
	}

	reg.stopBatch()

	for _, dir := range reg.watchedDirs() {
		if !m.dirStillWatched(dir, id) {
			_ = m.watcher.Remove(dir)
		}
	}

	return nil
}

// dirStillWatched reports whether any registration other than
// excludeID still needs a watcher on dir (two registrations can share a
// subtree).
func (m *Manager) dirStillWatched(dir, excludeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, reg := range m.regs {
		if id == excludeID {
			continue
		}

		if reg.hasDir(dir) {
			return true
		}
	}

	return false
}

// Close stops the underlying OS watcher and all batch timers.
func (m *Manager) Close() error {
	var err error

	m.closeOnce.Do(func() {
		close(m.closeCh)
		err = m.watcher.Close()

		m.mu.Lock()
		for _, reg := range m.regs {
			reg.stopBatch()
		}
		m.mu.Unlock()
	})

	return err
}

func (m *Manager) loop() {
	for {
		select {
		case <-m.closeCh:
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			m.handleRawEvent(ev)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}

			m.handleWatcherError(err)
		}
	}
}

func (m *Manager) handleRawEvent(ev fsnotify.Event) {
	kind, ok := classify(ev)
	if !ok {
		return
	}

	fce := FileChangeEvent{Path: ev.Name, Kind: kind, Timestamp: clock.Now()}

	if kind != KindDelete {
		if info, err := os.Stat(ev.Name); err == nil {
			fce.Size = info.Size()
			fce.ModTime = info.ModTime()
			fce.IsDir = info.IsDir()

			if ev.Has(fsnotify.Create) && info.IsDir() {
				m.attachToNewDir(ev.Name)
			}
		}
	}

	for _, reg := range m.matchingRegistrations(ev.Name) {
		r := reg

		flushed := r.ingest(fce, func() { m.flush(r) })
		if flushed != nil {
			m.emit(r, flushed)
		}
	}
}

func classify(ev fsnotify.Event) (Kind, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return KindCreate, true
	case ev.Has(fsnotify.Write):
		return KindModify, true
	case ev.Has(fsnotify.Remove):
		return KindDelete, true
	case ev.Has(fsnotify.Rename):
		return KindDelete, true
	default:
		return 0, false
	}
}

func (m *Manager) handleWatcherError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		m.mu.RLock()
		regs := make([]*registration, 0, len(m.regs))
		for _, reg := range m.regs {
			regs = append(regs, reg)
		}
		m.mu.RUnlock()

		for _, reg := range regs {
			overflow := FileChangeEvent{Path: reg.root, Kind: KindOverflow, Timestamp: clock.Now()}
			m.emit(reg, []FileChangeEvent{overflow})

			if m.rescan != nil {
				go m.rescan(context.Background(), reg.root)
			}
		}

		return
	}

	log(context.Background()).Warnf("watch error: %v", err)
}

func (m *Manager) attachToNewDir(dir string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, reg := range m.regs {
		if !reg.opts.Recursive {
			continue
		}

		if !strings.HasPrefix(dir, reg.root) {
			continue
		}

		if reg.hasDir(dir) {
			continue
		}

		if err := m.watcher.Add(dir); err != nil {
			log(context.Background()).Warnf("failed to watch new directory %s: %v", dir, err)
			continue
		}

		reg.addDir(dir)
	}
}

func (m *Manager) matchingRegistrations(path string) []*registration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*registration

	for _, reg := range m.regs {
		if strings.HasPrefix(path, reg.root) {
			out = append(out, reg)
		}
	}

	return out
}

func (m *Manager) flush(r *registration) {
	events := r.takeFlush()
	if len(events) == 0 {
		return
	}

	m.emit(r, events)
}

func (m *Manager) emit(r *registration, raw []FileChangeEvent) {
	coalesced := coalesce(raw)

	m.listenersMu.Lock()
	listeners := append([]EventListener(nil), m.listeners...)
	m.listenersMu.Unlock()

	for _, l := range listeners {
		l.OnBatch(r.id, coalesced)
	}
}
