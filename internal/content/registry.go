// Package content serves the read-only resource and prompt catalogues. Both
// are loaded from a content directory at startup and rebuilt on filesystem
// changes; readers always see a complete snapshot, swapped atomically.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrPromptNotFound   = errors.New("prompt not found")
)

// uriScheme prefixes every resource URI served by this registry.
const uriScheme = "canton://docs/"

// reloadDebounce coalesces bursts of fsnotify events into one rebuild.
const reloadDebounce = 250 * time.Millisecond

// Resource is a static content blob addressed by URI.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType"`
	Text        string `json:"-"`
}

// Prompt is a named template with declared arguments.
type Prompt struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Arguments   []PromptArg `json:"arguments,omitempty"`
	Template    string      `json:"-"`
}

// PromptArg describes one substitutable argument of a prompt.
type PromptArg struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// promptFile is the on-disk JSON shape under <dir>/prompts/.
type promptFile struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Arguments   []PromptArg `json:"arguments"`
	Template    string      `json:"template"`
}

// snapshot is one immutable view of the catalogues. Readers take the current
// pointer and use it for the whole request; reloads never mutate in place.
type snapshot struct {
	resources map[string]Resource
	resList   []Resource
	prompts   map[string]Prompt
	promList  []Prompt
}

// Registry holds the current snapshot. Lookups are lock-free.
type Registry struct {
	dir    string
	snap   atomic.Pointer[snapshot]
	logger *zap.Logger
}

// NewRegistry loads the content directory and returns a ready registry. A
// missing directory yields empty catalogues rather than an error, matching
// servers deployed without docs.
func NewRegistry(dir string, logger *zap.Logger) (*Registry, error) {
	r := &Registry{dir: dir, logger: logger}
	snap, err := r.load()
	if err != nil {
		return nil, err
	}
	r.snap.Store(snap)
	logger.Info("content registry loaded",
		zap.Int("resources", len(snap.resList)),
		zap.Int("prompts", len(snap.promList)))
	return r, nil
}

// Resources lists all resources sorted by URI.
func (r *Registry) Resources() []Resource { return r.snap.Load().resList }

// ReadResource returns the resource addressed by uri.
func (r *Registry) ReadResource(uri string) (Resource, error) {
	res, ok := r.snap.Load().resources[uri]
	if !ok {
		return Resource{}, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
	}
	return res, nil
}

// Prompts lists all prompts sorted by name.
func (r *Registry) Prompts() []Prompt { return r.snap.Load().promList }

// RenderPrompt resolves a prompt by name and substitutes {{arg}} markers
// with the supplied arguments. Missing required arguments are an error.
func (r *Registry) RenderPrompt(name string, args map[string]string) (Prompt, string, error) {
	p, ok := r.snap.Load().prompts[name]
	if !ok {
		return Prompt{}, "", fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}
	text := p.Template
	for _, arg := range p.Arguments {
		val, present := args[arg.Name]
		if !present {
			if arg.Required {
				return Prompt{}, "", fmt.Errorf("prompt %q: missing required argument %q", name, arg.Name)
			}
			continue
		}
		text = strings.ReplaceAll(text, "{{"+arg.Name+"}}", val)
	}
	return p, text, nil
}

// Watch rebuilds and swaps the snapshot whenever the content directory
// changes. It returns once the watcher is installed; watching stops when
// done is closed. Calling Watch on a registry whose directory does not exist
// is a no-op.
func (r *Registry) Watch(done <-chan struct{}) error {
	if _, err := os.Stat(r.dir); err != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("content watcher: %w", err)
	}
	for _, sub := range []string{r.dir, filepath.Join(r.dir, "resources"), filepath.Join(r.dir, "prompts")} {
		if _, err := os.Stat(sub); err == nil {
			if err := watcher.Add(sub); err != nil {
				watcher.Close()
				return fmt.Errorf("content watcher: add %s: %w", sub, err)
			}
		}
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, r.reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("content watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Reload rebuilds the snapshot immediately.
func (r *Registry) Reload() error {
	snap, err := r.load()
	if err != nil {
		return err
	}
	r.snap.Store(snap)
	return nil
}

func (r *Registry) reload() {
	if err := r.Reload(); err != nil {
		r.logger.Warn("content reload failed, keeping previous snapshot", zap.Error(err))
		return
	}
	snap := r.snap.Load()
	r.logger.Info("content reloaded",
		zap.Int("resources", len(snap.resList)),
		zap.Int("prompts", len(snap.promList)))
}

func (r *Registry) load() (*snapshot, error) {
	snap := &snapshot{
		resources: make(map[string]Resource),
		prompts:   make(map[string]Prompt),
	}

	resDir := filepath.Join(r.dir, "resources")
	if entries, err := os.ReadDir(resDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			path := filepath.Join(resDir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read resource %s: %w", path, err)
			}
			res := Resource{
				URI:      uriScheme + entry.Name(),
				Name:     strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
				MimeType: mimeFor(entry.Name()),
				Text:     string(data),
			}
			snap.resources[res.URI] = res
			snap.resList = append(snap.resList, res)
		}
	}

	promptDir := filepath.Join(r.dir, "prompts")
	if entries, err := os.ReadDir(promptDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			path := filepath.Join(promptDir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read prompt %s: %w", path, err)
			}
			var pf promptFile
			if err := json.Unmarshal(data, &pf); err != nil {
				return nil, fmt.Errorf("parse prompt %s: %w", path, err)
			}
			if pf.Name == "" {
				return nil, fmt.Errorf("prompt %s: missing name", path)
			}
			p := Prompt{
				Name:        pf.Name,
				Description: pf.Description,
				Arguments:   pf.Arguments,
				Template:    pf.Template,
			}
			snap.prompts[p.Name] = p
			snap.promList = append(snap.promList, p)
		}
	}

	sort.Slice(snap.resList, func(i, j int) bool { return snap.resList[i].URI < snap.resList[j].URI })
	sort.Slice(snap.promList, func(i, j int) bool { return snap.promList[i].Name < snap.promList[j].Name })
	return snap, nil
}

func mimeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".daml":
		return "text/x-daml"
	case ".html":
		return "text/html"
	default:
		return "text/plain"
	}
}
