package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const (
	signalFileSuffix = ".signal"
	spoolDirName     = "appbridge"
	spoolVersion     = "v1"
)

// FileChannel implements Channel on a directory shared by every process of an
// app group. Post atomically replaces <spool>/<name>.signal and observers are
// woken by filesystem notifications. Posts landing faster than observers read
// them may coalesce into one delivery.
type FileChannel struct {
	namespace string
	spool     string
	opts      *Options
	observers *observerSet
	watcher   *fsnotify.Watcher

	mu       sync.Mutex
	closed   bool
	lastSeen map[string]string // signal name -> last dispatched signal ID
	done     chan struct{}
}

// NewFileChannel creates a file-backed channel inside dir, the shared
// app-group container. dir must already exist.
func NewFileChannel(namespace, dir string, opts ...Option) (*FileChannel, error) {
	return newFileChannel(namespace, dir, newOptions(opts...))
}

func newFileChannel(namespace, dir string, o *Options) (*FileChannel, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &ConfigurationError{Namespace: namespace, Reason: "app group container is unavailable", Err: err}
	}
	if !info.IsDir() {
		return nil, &ConfigurationError{Namespace: namespace, Reason: fmt.Sprintf("app group container %s is not a directory", dir)}
	}

	spool := filepath.Join(dir, spoolDirName, spoolVersion, namespace)
	if err := os.MkdirAll(spool, 0o755); err != nil {
		return nil, &ConfigurationError{Namespace: namespace, Reason: "cannot create signal directory", Err: err}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("channel: create watcher: %w", err)
	}
	if err := watcher.Add(spool); err != nil {
		_ = watcher.Close()
		return nil, &ConfigurationError{Namespace: namespace, Reason: "cannot watch signal directory", Err: err}
	}

	c := &FileChannel{
		namespace: namespace,
		spool:     spool,
		opts:      o,
		observers: newObserverSet(),
		watcher:   watcher,
		lastSeen:  make(map[string]string),
		done:      make(chan struct{}),
	}
	go c.watch()

	log.Info().Str("namespace", namespace).Str("spool", spool).Msg("file channel initialized")
	return c, nil
}

// Post writes the signal file through a temp file and rename, so readers only
// ever see complete signals.
func (c *FileChannel) Post(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	sig := newSignal(c.namespace, name)
	payload, err := encodeSignal(sig)
	if err != nil {
		log.Error().Err(err).Str("signal", name).Msg("failed to marshal signal")
		return nil
	}
	if err := c.writeSignal(name, payload); err != nil {
		log.Warn().Err(err).Str("namespace", c.namespace).Str("signal", name).Msg("signal dropped, write failed")
		return nil
	}
	log.Debug().Str("namespace", c.namespace).Str("signal", name).Str("signal_id", sig.ID).Msg("signal written")
	return nil
}

func (c *FileChannel) writeSignal(name string, payload []byte) error {
	tmp, err := os.CreateTemp(c.spool, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(c.spool, name+signalFileSuffix)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (c *FileChannel) watch() {
	defer close(c.done)
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			name, ok := signalName(ev.Name)
			if !ok {
				continue
			}
			c.handle(name, ev.Name)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("namespace", c.namespace).Msg("file watcher error")
		}
	}
}

// handle reads the signal file and dispatches it once per signal ID.
func (c *FileChannel) handle(name, path string) {
	obs := c.observers.forName(name)
	if len(obs) == 0 {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("failed to read signal file")
		}
		return
	}
	sig, err := decodeSignal(c.namespace, name, data)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("skipping malformed signal file")
		return
	}

	c.mu.Lock()
	if c.lastSeen[name] == sig.ID {
		c.mu.Unlock()
		return
	}
	c.lastSeen[name] = sig.ID
	c.mu.Unlock()

	for _, o := range obs {
		o.offer(sig)
	}
}

// signalName extracts the signal name from a spool path, ignoring temp files.
func signalName(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	name, ok := strings.CutSuffix(base, signalFileSuffix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// Observe registers fn for name.
func (c *FileChannel) Observe(name string, fn func(Signal)) (Token, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if fn == nil {
		return "", ErrNilCallback
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	o := newObservation(name, fn, c.opts.QueueSize)
	c.observers.add(o)
	log.Debug().Str("namespace", c.namespace).Str("signal", name).Str("token", string(o.token)).Msg("file observation created")
	return o.token, nil
}

// Cancel stops delivery for token.
func (c *FileChannel) Cancel(token Token) error {
	o, ok := c.observers.remove(token)
	if !ok {
		return nil
	}
	o.cancel()
	log.Debug().Str("namespace", c.namespace).Str("signal", o.name).Str("token", string(token)).Msg("file observation cancelled")
	return nil
}

// Namespace returns the app-group identifier.
func (c *FileChannel) Namespace() string {
	return c.namespace
}

// Close stops the watcher and every observation. Signal files are left in
// place for other processes.
func (c *FileChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.watcher.Close()
	<-c.done

	obs := c.observers.drain()
	for _, o := range obs {
		o.cancel()
	}
	for _, o := range obs {
		o.wait()
	}
	log.Info().Str("namespace", c.namespace).Msg("file channel closed")
	return err
}

var _ Channel = (*FileChannel)(nil)
