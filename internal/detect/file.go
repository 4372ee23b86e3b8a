package detect

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// FileSource reads the detected state from a file the external detector
// keeps rewriting. The watch is on the parent directory because most
// writers replace the file atomically (write temp, rename over).
type FileSource struct {
	path    string
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	state string

	done chan struct{}
	wg   sync.WaitGroup
}

// NewFileSource starts watching path. A missing file is not an error;
// the state stays empty until the detector writes it.
func NewFileSource(path string) (*FileSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("detect: resolve %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("detect: watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("detect: watch %s: %w", filepath.Dir(abs), err)
	}

	s := &FileSource{
		path:    abs,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	s.reload()
	s.wg.Add(1)
	go s.watchLoop()
	return s, nil
}

func (s *FileSource) State() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *FileSource) Close() error {
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

func (s *FileSource) watchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Base(ev.Name) != filepath.Base(s.path) {
				continue
			}
			s.reload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("detect: watcher error")
		}
	}
}

func (s *FileSource) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", s.path).Msg("detect: state file unreadable")
		}
		return
	}
	// first line only; detectors append debug lines below it
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[:i]
	}
	state := string(bytes.TrimSpace(data))

	s.mu.Lock()
	changed := state != s.state
	s.state = state
	s.mu.Unlock()
	if changed {
		log.Debug().Str("ds_state", state).Msg("detect: display state changed")
	}
}
