package device

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Store loads the device inventory from some backing source.
type Store interface {
	Load(ctx context.Context) ([]Descriptor, error)
}

var _ Store = (*FileStore)(nil)

// FileStore reads the inventory from a YAML file.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

type inventoryFile struct {
	Devices []Descriptor `yaml:"devices"`
}

func (f *FileStore) Load(_ context.Context) ([]Descriptor, error) {
	bytes, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("Load: failed to read file %s: %w", f.Path, err)
	}
	if len(bytes) == 0 {
		return nil, fmt.Errorf("Load: inventory file %s is empty", f.Path)
	}

	var inv inventoryFile
	if err := yaml.Unmarshal(bytes, &inv); err != nil {
		return nil, fmt.Errorf("Load: failed to parse YAML in %s: %w", f.Path, err)
	}
	return inv.Devices, nil
}

// Watch invokes onChange whenever the inventory file is rewritten.
func (f *FileStore) Watch(onChange func()) error {
	if onChange == nil {
		return fmt.Errorf("onChange callback cannot be nil")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(f.Path); err != nil {
		return fmt.Errorf("failed to watch file %s: %w", f.Path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write != 0 {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Watcher error on %s: %v", f.Path, err)
			}
		}
	}()

	return nil
}
