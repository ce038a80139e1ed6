// Package applog sends slog output to a log file that rolls over daily.
package applog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Handler formats accepted by Init.
const (
	FormatText = "text"
	FormatJSON = "json"
)

const (
	defaultPrefix = "livefeed"
	defaultKeep   = 7
	dayLayout     = "2006-01-02"
)

type RotatorOptions struct {
	Dir    string
	Prefix string // file names are <Prefix>-<YYYY-MM-DD>.log
	Keep   int    // files retained, the current one included
	Clock  clockwork.Clock
}

// Rotator is an io.Writer over <Dir>/<Prefix>-<day>.log. The first write of a
// new day opens a new file and prunes all but the newest Keep files.
type Rotator struct {
	opts RotatorOptions

	mu   sync.Mutex
	day  string
	file *os.File
}

func NewRotator(opts RotatorOptions) *Rotator {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.Keep <= 0 {
		opts.Keep = defaultKeep
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Rotator{opts: opts}
}

func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if day := r.opts.Clock.Now().Format(dayLayout); day != r.day {
		if err := r.openDay(day); err != nil {
			return 0, err
		}
	}
	return r.file.Write(p)
}

// Path is the file currently written to, or "" before the first write.
func (r *Rotator) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

func (r *Rotator) fileFor(day string) string {
	return filepath.Join(r.opts.Dir, r.opts.Prefix+"-"+day+".log")
}

// openDay must be called with r.mu held.
func (r *Rotator) openDay(day string) error {
	f, err := os.OpenFile(r.fileFor(day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if r.file != nil {
		r.file.Close()
	}
	r.file, r.day = f, day
	r.prune()
	return nil
}

func (r *Rotator) prune() {
	files, err := filepath.Glob(filepath.Join(r.opts.Dir, r.opts.Prefix+"-*.log"))
	if err != nil || len(files) <= r.opts.Keep {
		return
	}
	// day stamps sort lexically
	slices.Sort(files)
	for _, f := range files[:len(files)-r.opts.Keep] {
		if f != r.file.Name() {
			os.Remove(f)
		}
	}
}

func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file, r.day = nil, ""
	return err
}

type InitConfig struct {
	LogDir    string
	LogLevel  string
	LogFormat string // FormatText (default) or FormatJSON
}

// Init installs a file-backed slog default and points the stdlib log package
// at the same file. The caller closes the returned io.Closer on exit.
func Init(cfg InitConfig) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	rotator := NewRotator(RotatorOptions{Dir: cfg.LogDir})
	logger := slog.New(NewHandler(rotator, cfg.LogFormat, ParseLevel(cfg.LogLevel)))
	slog.SetDefault(logger)
	log.SetOutput(rotator)
	log.SetFlags(0)
	return logger, rotator, nil
}

// NewHandler builds the slog handler for format, writing to w.
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, FormatJSON) {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps debug, warn/warning and error; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
