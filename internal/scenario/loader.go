package scenario

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads a scenario YAML file and can watch it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Document
	onChange []func(*Document)
}

// NewLoader creates a Loader and performs the initial load and validation.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	doc, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = doc
	return l, nil
}

// Document returns the current (latest) document.
func (l *Loader) Document() *Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Path returns the file the loader reads from.
func (l *Loader) Path() string { return l.path }

// OnChange registers a callback invoked whenever the document reloads.
func (l *Loader) OnChange(fn func(*Document)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that reloads the document on file
// changes. Invalid intermediate saves are skipped, keeping the old document.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("scenario watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("scenario watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					doc, err := l.load()
					if err != nil {
						continue
					}
					l.mu.Lock()
					l.current = doc
					callbacks := make([]func(*Document), len(l.onChange))
					copy(callbacks, l.onChange)
					l.mu.Unlock()
					for _, fn := range callbacks {
						fn(doc)
					}
				}
			case <-w.Errors:
				// Ignore watcher errors.
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

func (l *Loader) load() (*Document, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", l.path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", l.path, err)
	}
	return doc, nil
}

// Parse decodes and validates a scenario document. Parse failures surface as
// SchemaError; an unsupported version as VersionError. No side effects.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		var se *SchemaError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, &SchemaError{Problems: []string{err.Error()}}
	}
	applyDefaults(&doc)
	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func applyDefaults(doc *Document) {
	if doc.Settings.GasPrice.IsZero() {
		doc.Settings.GasPrice = GasPrice{Policy: "fast"}
	}
	if doc.Settings.Chain == "" {
		doc.Settings.Chain = "any"
	}
	if doc.Nodes.Mode == "" {
		doc.Nodes.Mode = ModeManaged
	}
	if doc.Nodes.BasePort == 0 {
		doc.Nodes.BasePort = 5001
	}
	if doc.Nodes.DefaultOptions.PathfindingMaxPaths == 0 {
		doc.Nodes.DefaultOptions.PathfindingMaxPaths = 5
	}
}
