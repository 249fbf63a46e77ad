// 配置文件变更监听器实现。
//
// 基于 fsnotify 监听配置文件所在目录，按文件去抖后触发回调。
// 监听目录而不是文件本身，编辑器的原子替换（写临时文件再 rename）也能被捕获。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher watches configuration files for changes
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	paths         []string
	debounceDelay time.Duration

	// 状态
	running bool
	watcher *fsnotify.Watcher
	pending map[string]*time.Timer
	cancel  context.CancelFunc
	done    chan struct{}

	// 回调
	callbacks []func(event FileEvent)

	// 记录器
	logger *zap.Logger
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 指示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
	// FileOpRename 表示文件已重命名
	FileOpRename
	// FileOpChmod 表示文件权限已更改
	FileOpChmod
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	case FileOpRename:
		return "RENAME"
	case FileOpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

func opFromNotify(op fsnotify.Op) FileOp {
	switch {
	case op.Has(fsnotify.Remove):
		return FileOpRemove
	case op.Has(fsnotify.Rename):
		return FileOpRename
	case op.Has(fsnotify.Create):
		return FileOpCreate
	case op.Has(fsnotify.Write):
		return FileOpWrite
	default:
		return FileOpChmod
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a new file watcher
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		debounceDelay: 100 * time.Millisecond,
		pending:       make(map[string]*time.Timer),
		callbacks:     make([]func(FileEvent), 0),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	for _, path := range paths {
		abs, err := normalize(path)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(w.paths, abs) {
			w.paths = append(w.paths, abs)
		}
	}

	return w, nil
}

// normalize 返回绝对路径，文件不存在时只告警
func normalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat path %s: %w", path, err)
	}
	return abs, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for file changes
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	for _, dir := range dirsOf(w.paths) {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.loop(loopCtx, fw, w.done)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("debounce_delay", w.debounceDelay))

	return nil
}

// Stop stops the file watcher and waits for the event loop to exit
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel, fw, done := w.cancel, w.watcher, w.done
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	cancel()
	err := fw.Close()
	<-done

	w.logger.Info("file watcher stopped")
	return err
}

func (w *FileWatcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.schedule(event)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

// schedule 合并去抖窗口内同一文件的事件，只投递最后一个
func (w *FileWatcher) schedule(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || !slices.Contains(w.paths, path) {
		return
	}

	fe := FileEvent{Path: path, Op: opFromNotify(event.Op), Timestamp: time.Now()}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounceDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		running := w.running
		callbacks := slices.Clone(w.callbacks)
		w.mu.Unlock()
		if !running {
			return
		}
		w.logger.Debug("config file changed",
			zap.String("path", fe.Path),
			zap.String("op", fe.Op.String()))
		for _, cb := range callbacks {
			cb(fe)
		}
	})
}

// AddPath adds a path to watch
func (w *FileWatcher) AddPath(path string) error {
	abs, err := normalize(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if slices.Contains(w.paths, abs) {
		return nil
	}
	if w.running {
		if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", abs, err)
		}
	}
	w.paths = append(w.paths, abs)
	return nil
}

// RemovePath removes a path from watching. The parent directory stays
// watched while other paths share it.
func (w *FileWatcher) RemovePath(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	idx := slices.Index(w.paths, abs)
	if idx < 0 {
		return
	}
	w.paths = slices.Delete(w.paths, idx, idx+1)
	if w.running && !slices.Contains(dirsOf(w.paths), filepath.Dir(abs)) {
		_ = w.watcher.Remove(filepath.Dir(abs))
	}
}

// Paths returns the watched paths
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.paths)
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func dirsOf(paths []string) []string {
	var dirs []string
	for _, p := range paths {
		d := filepath.Dir(p)
		if !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// --- 配置热重载 ---

// Watch 监听加载器的配置文件，文件变更后重新加载并校验，通过后调用 apply。
// 加载或校验失败时保留旧配置并记录日志。
func (l *Loader) Watch(ctx context.Context, logger *zap.Logger, apply func(*Config)) (*FileWatcher, error) {
	if l.configPath == "" {
		return nil, fmt.Errorf("loader has no config path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w, err := NewFileWatcher([]string{l.configPath}, WithWatcherLogger(logger))
	if err != nil {
		return nil, err
	}
	w.OnChange(func(ev FileEvent) {
		if ev.Op == FileOpRemove || ev.Op == FileOpRename || ev.Op == FileOpChmod {
			return
		}
		cfg, err := l.Load()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			logger.Warn("config reload rejected", zap.String("path", ev.Path), zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("path", ev.Path))
		apply(cfg)
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
