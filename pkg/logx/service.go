package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

type ChatConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

const defaultLogPath = "./certnotify.log"

// Service owns the sinks behind every Logger it hands out and swaps them on
// Apply.
type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Value // zerolog.Logger

	console io.Writer
	file    *os.File
	chat    *chatSink
}

// NewService applies cfg immediately and returns the service together with
// its root logger. Console lines go to console (os.Stdout when nil).
func NewService(cfg Config, console io.Writer) (*Service, Logger) {
	setGlobals()
	if console == nil {
		console = os.Stdout
	}
	s := &Service{console: console}
	s.root.Store(zerolog.New(newConsoleWriter(console)).Level(ParseLevel(cfg.Level, LevelInfo)).With().Timestamp().Logger())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	zl, ok := s.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetChatSink installs the destination of mirrored log lines. A nil sink
// disables mirroring without touching the config.
func (s *Service) SetChatSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat == nil {
		s.chat = newChatSink()
	}
	s.chat.setSink(sink)
}

// Apply swaps outputs and levels at runtime. It is safe to call concurrently.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(s.console))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogPath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: failed opening log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Chat.Enabled {
		if s.chat == nil {
			s.chat = newChatSink()
		}
		rps := max(1, cfg.Chat.RatePerSec)
		s.chat.configure(ParseLevel(cfg.Chat.MinLevel, LevelWarn), rate.NewLimiter(rate.Limit(rps), rps))
		s.chat.start()
		writers = append(writers, s.chat)
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(s.console))
	}

	lvl := ParseLevel(cfg.Level, LevelInfo)
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	s.root.Store(zl)
}

// Close stops the chat worker and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	chat := s.chat
	s.mu.Unlock()

	if chat != nil {
		chat.stop()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// Sink receives one rendered log message.
type Sink interface {
	SendLog(ctx context.Context, text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, text string) error

func (f SinkFunc) SendLog(ctx context.Context, text string) error { return f(ctx, text) }
