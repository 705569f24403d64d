package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/Benny93/relcount-go/internal/graph"
)

// DefaultDebounce is how long the watcher waits for writes to settle before
// applying new events.
const DefaultDebounce = 2 * time.Second

// EventFileExt is the extension of watched edge event files.
const EventFileExt = ".jsonl"

// Edge event operations.
const (
	OpCreate = "create"
	OpDelete = "delete"
	OpUpdate = "update"
)

// EventSink applies relationship changes and keeps cached counts in sync.
type EventSink interface {
	CreateRelationships(ctx context.Context, rels ...*graph.GraphRelationship) error
	DeleteRelationships(ctx context.Context, relIDs ...string) (bool, error)
	UpdateRelationship(ctx context.Context, rel *graph.GraphRelationship) (bool, error)
}

// EdgeEvent is one line of an edge event file.
type EdgeEvent struct {
	Op string `json:"op"`
	RelationshipRecord
}

// WatchOptions configures WatchEvents.
type WatchOptions struct {
	Debounce time.Duration
	Logger   logrus.FieldLogger
}

// WatchEvents applies the edge events found in the *.jsonl files of dir,
// then follows the files as lines are appended. Blocks until the context is
// cancelled.
func WatchEvents(ctx context.Context, dir string, sink EventSink, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	log := opts.Logger.WithFields(logrus.Fields{"action": "watch", "dir": dir})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	tail := NewTailer(sink, log)

	existing, err := filepath.Glob(filepath.Join(dir, "*"+EventFileExt))
	if err != nil {
		return fmt.Errorf("listing event files: %w", err)
	}
	for _, path := range existing {
		tail.Apply(ctx, path)
	}
	log.WithField("files", len(existing)).Info("watching edge event files")

	batchTimer := time.NewTimer(opts.Debounce)
	batchTimer.Stop()
	changed := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isEventFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				tail.Forget(event.Name)
				delete(changed, event.Name)
				continue
			}
			changed[event.Name] = true
			batchTimer.Reset(opts.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watch error")

		case <-batchTimer.C:
			paths := make([]string, 0, len(changed))
			for path := range changed {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			for _, path := range paths {
				tail.Apply(ctx, path)
			}
			changed = make(map[string]bool)
		}
	}
}

func isEventFile(path string) bool {
	return strings.HasSuffix(path, EventFileExt)
}

// Tailer applies complete lines appended to event files since the last call.
// It is not safe for concurrent use.
type Tailer struct {
	sink    EventSink
	logger  logrus.FieldLogger
	offsets map[string]int64
}

// NewTailer creates a tailer that has read nothing yet.
func NewTailer(sink EventSink, logger logrus.FieldLogger) *Tailer {
	return &Tailer{sink: sink, logger: logger, offsets: make(map[string]int64)}
}

// Forget drops the read position of path.
func (t *Tailer) Forget(path string) {
	delete(t.offsets, path)
}

// Apply reads the new complete lines of path and applies them. A trailing
// line without newline is left for the next call. Bad lines are logged and
// skipped. It returns the number of events applied.
func (t *Tailer) Apply(ctx context.Context, path string) int {
	log := t.logger.WithField("file", filepath.Base(path))

	lines, err := t.readNew(path)
	if err != nil {
		log.WithError(err).Warn("reading edge events")
		return 0
	}

	applied := 0
	for i, line := range lines {
		if ctx.Err() != nil {
			return applied
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := t.applyLine(ctx, line); err != nil {
			log.WithField("line", i+1).WithError(err).Warn("skipping edge event")
			continue
		}
		applied++
	}
	if applied > 0 {
		log.WithField("applied", applied).Info("applied edge events")
	}
	return applied
}

func (t *Tailer) readNew(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := t.offsets[path]
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		t.offsets[path] = offset
		return nil, nil
	}
	t.offsets[path] = offset + int64(end) + 1
	return bytes.Split(data[:end], []byte{'\n'}), nil
}

func (t *Tailer) applyLine(ctx context.Context, line []byte) error {
	var ev EdgeEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return fmt.Errorf("parsing: %w", err)
	}

	switch ev.Op {
	case OpCreate:
		rel, err := ev.Relationship()
		if err != nil {
			return err
		}
		return t.sink.CreateRelationships(ctx, rel)

	case OpDelete:
		if ev.ID == "" {
			return errors.New("delete without relationship id")
		}
		inSync, err := t.sink.DeleteRelationships(ctx, ev.ID)
		if err != nil {
			return err
		}
		if !inSync {
			t.logger.WithField("relationship", ev.ID).Warn("cached counts out of sync after delete")
		}
		return nil

	case OpUpdate:
		if ev.ID == "" {
			return errors.New("update without relationship id")
		}
		rel, err := ev.Relationship()
		if err != nil {
			return err
		}
		inSync, err := t.sink.UpdateRelationship(ctx, rel)
		if err != nil {
			return err
		}
		if !inSync {
			t.logger.WithField("relationship", ev.ID).Warn("cached counts out of sync after update")
		}
		return nil

	default:
		return fmt.Errorf("unknown op %q", ev.Op)
	}
}
