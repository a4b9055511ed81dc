package styles

import (
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"danmaku/internal/game/bullets"
)

// ApplyFunc installs a freshly loaded catalog.
type ApplyFunc func(styles []bullets.Style) error

// Watcher reloads a catalog file when it or a script next to it changes.
// A catalog that fails to load or apply is logged and the previous styles
// stay in effect.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	apply    ApplyFunc
	debounce time.Duration

	Reloads chan int // number of styles applied, best effort
	closeCh chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Watch starts watching the catalog at path. The directory is watched
// rather than the file so editors that replace files are handled.
func Watch(path string, apply ApplyFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dirs := []string{filepath.Dir(path), filepath.Join(filepath.Dir(path), "scripts")}
	for i, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			if i == 0 {
				_ = fw.Close()
				return nil, err
			}
		}
	}

	w := &Watcher{
		watcher:  fw,
		path:     filepath.Clean(path),
		apply:    apply,
		debounce: 100 * time.Millisecond,
		Reloads:  make(chan int, 4),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher and waits for it to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			// Coalesce bursts of writes into one reload.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️ Style watcher error: %v", err)
		case <-w.closeCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	if filepath.Clean(name) == w.path {
		return true
	}
	return strings.EqualFold(filepath.Ext(name), ".tengo")
}

func (w *Watcher) reload() {
	styles, err := LoadFile(w.path)
	if err != nil {
		log.Printf("⚠️ Style catalog reload failed: %v", err)
		return
	}
	if err := w.apply(styles); err != nil {
		log.Printf("⚠️ Style catalog rejected: %v", err)
		return
	}
	log.Printf("🎨 Reloaded %d styles from %s", len(styles), w.path)
	select {
	case w.Reloads <- len(styles):
	default:
	}
}
