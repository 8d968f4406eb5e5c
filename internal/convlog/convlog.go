// Package convlog records chat exchanges as newline-delimited JSON, one file
// per session, written asynchronously so request handling never waits on disk.
package convlog

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channels an event can arrive through.
const (
	ChannelHTTP      = "chat_http"
	ChannelWebSocket = "chat_ws"
	ChannelREPL      = "repl"
)

// Event types.
const (
	EventUserMessage = "chat_user_message"
	EventBotReply    = "chat_bot_reply"
	EventError       = "chat_error"
	EventRemember    = "remember"
)

const (
	defaultQueueSize    = 256
	defaultMaxOpenFiles = 64
)

// Logger accepts conversation events.
type Logger interface {
	Log(event Event)
	Close() error
}

// Config controls where events are written.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	// MaxOpenFiles bounds the per-session files held open at once. The least
	// recently written file is closed when the bound is reached.
	MaxOpenFiles int
}

// Event is one line of a conversation log.
type Event struct {
	EventID    string         `json:"event_id"`
	Timestamp  time.Time      `json:"ts"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	Content    string         `json:"content"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Noop discards every event.
type Noop struct{}

// Log implements Logger.
func (Noop) Log(Event) {}

// Close implements Logger.
func (Noop) Close() error { return nil }

// FileLogger writes events from a bounded queue on a single goroutine.
type FileLogger struct {
	cfg    Config
	logger *slog.Logger

	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	files  *openFiles
	global *os.File
}

// New returns a FileLogger, or Noop when logging is disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("conversation log directory is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = defaultMaxOpenFiles
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &FileLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  newOpenFiles(cfg.MaxOpenFiles),
	}
	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	go l.run()
	return l, nil
}

// Log enqueues event. Events are dropped when the queue is full or the
// logger is closed.
func (l *FileLogger) Log(event Event) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Conversation log queue full, dropping event", "session_id", event.SessionID, "event_type", event.EventType)
	}
}

// Close drains the queue and closes all files.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done

	errs := []error{l.files.closeAll()}
	if l.global != nil {
		errs = append(errs, l.global.Close())
	}
	return errors.Join(errs...)
}

func (l *FileLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		l.write(event)
	}
}

func (l *FileLogger) write(event Event) {
	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("Failed to encode conversation event", "error", err)
		return
	}
	line = append(line, '\n')

	f, err := l.sessionFile(event.SessionID)
	if err != nil {
		l.logger.Warn("Failed to open conversation log", "session_id", event.SessionID, "error", err)
	} else if _, err := f.Write(line); err != nil {
		l.logger.Warn("Failed to write conversation log", "session_id", event.SessionID, "error", err)
	}
	if l.global != nil {
		if _, err := l.global.Write(line); err != nil {
			l.logger.Warn("Failed to write global conversation log", "error", err)
		}
	}
}

func (l *FileLogger) sessionFile(sessionID string) (*os.File, error) {
	name := safeName(sessionID)
	if f := l.files.get(name); f != nil {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(l.cfg.Dir, name+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if evicted := l.files.put(name, f); evicted != nil {
		if err := evicted.Close(); err != nil {
			l.logger.Warn("Failed to close conversation log", "error", err)
		}
	}
	return f, nil
}

// openFiles is an LRU of session log handles. It is only touched by the
// writer goroutine and by Close after that goroutine has exited.
type openFiles struct {
	limit int
	order *list.List
	byKey map[string]*list.Element
}

type openFile struct {
	name string
	file *os.File
}

func newOpenFiles(limit int) *openFiles {
	return &openFiles{limit: limit, order: list.New(), byKey: make(map[string]*list.Element)}
}

func (o *openFiles) get(name string) *os.File {
	el, ok := o.byKey[name]
	if !ok {
		return nil
	}
	o.order.MoveToFront(el)
	return el.Value.(*openFile).file
}

// put adds f and returns the handle that fell out of the cache, if any.
func (o *openFiles) put(name string, f *os.File) *os.File {
	o.byKey[name] = o.order.PushFront(&openFile{name: name, file: f})
	if o.order.Len() <= o.limit {
		return nil
	}
	oldest := o.order.Back()
	o.order.Remove(oldest)
	entry := oldest.Value.(*openFile)
	delete(o.byKey, entry.name)
	return entry.file
}

func (o *openFiles) size() int {
	return o.order.Len()
}

func (o *openFiles) closeAll() error {
	var errs []error
	for el := o.order.Front(); el != nil; el = el.Next() {
		errs = append(errs, el.Value.(*openFile).file.Close())
	}
	o.order.Init()
	clear(o.byKey)
	return errors.Join(errs...)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// safeName maps a session ID onto a file name that cannot escape Dir. IDs
// that need rewriting get a "~" and a hash of the raw ID appended; "~" never
// survives sanitizing, so rewritten names cannot collide with clean ones.
func safeName(sessionID string) string {
	name := unsafeChars.ReplaceAllString(sessionID, "_")
	name = strings.TrimLeft(name, ".")
	if name == sessionID && name != "" {
		return name
	}
	if name == "" {
		name = "unknown"
	}
	sum := sha256.Sum256([]byte(sessionID))
	return name + "~" + hex.EncodeToString(sum[:4])
}

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

func cleanForReadability(raw string) string {
	s := ansiSequence.ReplaceAllString(raw, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
