package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	ExecMonitoring     = "exec_mod"     // entry-point pipeline
	ValidateMonitoring = "validate_mod" // post-execution security checks
	SyscallMonitoring  = "syscall_mod"  // syscall handler
	VMMonitoring       = "vm_mod"       // machine steps and faults
	StateMonitoring    = "state_mod"    // cached state and visited pcs
	StorageMonitoring  = "storage_mod"  // leveldb persistence
)

var root atomic.Value

func init() {
	root.Store(NewLogger(DiscardHandler()))
}

func ParseLevel(lvl string) (slog.Level, error) {
	switch strings.ToUpper(lvl) {
	case "MAX", "MAXVERBOSITY":
		return levelMaxVerbosity, nil
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRIT", "CRITICAL":
		return LevelCrit, nil
	default:
		return 0, fmt.Errorf("invalid level: %s", lvl)
	}
}

func InitLogger(logLevel string) {
	if err := InitLoggerTo(os.Stderr, logLevel, false); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
}

// InitLoggerTo installs a root logger writing to w.
func InitLoggerTo(w io.Writer, logLevel string, asJSON bool) error {
	logLvl, err := ParseLevel(logLevel)
	if err != nil {
		return err
	}
	if asJSON {
		SetDefault(NewLogger(NewJSONHandlerWithLevel(w, logLvl)))
	} else {
		SetDefault(NewLogger(NewTerminalHandlerWithLevel(w, logLvl, false)))
	}
	return nil
}

// SetDefault sets the default global logger
func SetDefault(l Logger) {
	root.Store(l)
	if lg, ok := l.(*logger); ok {
		slog.SetDefault(lg.inner)
	}
}

// Root returns the root logger
func Root() Logger {
	return root.Load().(Logger)
}

// --- Module management ---
// moduleEnabled keeps track of whether a module's Trace/Debug output is enabled.
var (
	moduleMu      sync.RWMutex
	moduleEnabled = map[string]bool{}
)

// EnableModule enables logging for the specified module.
func EnableModule(module string) {
	moduleMu.Lock()
	defer moduleMu.Unlock()
	moduleEnabled[module] = true
}

// EnableModules enables a comma separated list of modules; "all" enables every module.
func EnableModules(modules string) {
	for _, m := range strings.Split(modules, ",") {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if m == "all" {
			for _, known := range []string{ExecMonitoring, ValidateMonitoring, SyscallMonitoring, VMMonitoring, StateMonitoring, StorageMonitoring} {
				EnableModule(known)
			}
			continue
		}
		EnableModule(m)
	}
}

// DisableModule disables logging for the specified module.
func DisableModule(module string) {
	moduleMu.Lock()
	defer moduleMu.Unlock()
	moduleEnabled[module] = false
}

func isModuleEnabled(module string) bool {
	moduleMu.RLock()
	defer moduleMu.RUnlock()
	return moduleEnabled[module]
}

// Trace logs a message at the trace level for a specific module.
func Trace(module string, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(context.Background(), LevelTrace, module, msg, ctx...)
}

// TraceContext is Trace with the span of ctx attached to the record.
func TraceContext(ctx context.Context, module string, msg string, kv ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(ctx, LevelTrace, module, msg, kv...)
}

// Debug logs a message at the debug level for a specific module.
func Debug(module string, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(context.Background(), slog.LevelDebug, module, msg, ctx...)
}

// DebugContext is Debug with the span of ctx attached to the record.
func DebugContext(ctx context.Context, module string, msg string, kv ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(ctx, slog.LevelDebug, module, msg, kv...)
}

// The rest of the logging functions (Info, Warn, Error, Crit, New) dont filter on module
func Info(module string, msg string, ctx ...interface{}) {
	Root().Write(context.Background(), slog.LevelInfo, module, msg, ctx...)
}

func Warn(module string, msg string, ctx ...interface{}) {
	Root().Write(context.Background(), slog.LevelWarn, module, msg, ctx...)
}

func Error(module string, msg string, ctx ...interface{}) {
	Root().Write(context.Background(), slog.LevelError, module, msg, ctx...)
}

func Crit(module string, msg string, ctx ...interface{}) {
	Root().Write(context.Background(), LevelCrit, module, msg, ctx...)
	os.Exit(1)
}

func New(ctx ...interface{}) Logger {
	return Root().With(ctx...)
}
