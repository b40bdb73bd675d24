// Package launcher drives one game launch at a time: it assembles the
// launch configuration from the active account and stored settings, hands
// it to a content engine, and normalizes everything the engine reports
// into the event stream the UI consumes.
package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kingdoms-launcher/internal/domain"
	"kingdoms-launcher/internal/installer"
	"kingdoms-launcher/internal/store"
)

const (
	defaultResWidth  = 854
	defaultResHeight = 480
	// Stored resolutions equal to the old default desktop size mean the
	// player never customized them.
	sentinelResWidth  = 1920
	sentinelResHeight = 1080

	unknownLaunchError = "Unknown launch error."
	alreadyRunning     = "The game is already running."

	authSideFileName = ".kingdoms_auth"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[mGKHF]`)

// Callbacks receive the normalized launch events. OnClose and OnError are
// terminal: exactly one of them fires exactly once per attempt.
type Callbacks struct {
	OnProgress func(domain.ProgressEvent)
	OnLog      func(string)
	OnClose    func(code int)
	OnError    func(message string)
}

// Result is the synchronous outcome of a start request.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Config carries the static launch identity of this installation.
type Config struct {
	// BasePath is the engine root; the instance lives under
	// BasePath/instances/<Instance>.
	BasePath    string
	Instance    string
	Version     string
	LoaderType  string
	LoaderBuild string
	ManifestURL string
	APIBase     string
	// AppDataDir is the second location the auth side-file is written to
	// (the in-game companion probes both it and the instance dir).
	AppDataDir string
	Logger     *logrus.Logger
}

// Orchestrator owns at most one live session.
type Orchestrator struct {
	cfg     Config
	store   *store.Store
	factory installer.Factory
	log     *logrus.Logger

	mu      sync.Mutex
	current *session
}

// session is the live association between an account and a running
// engine. finishOnce is the terminal-dedup latch: the engine can surface
// one logical outcome through an error event, a close event and the
// launch task's own failure, and only the first may report.
type session struct {
	account    domain.Account
	inst       installer.Installer
	started    time.Time
	finishOnce sync.Once
}

func New(cfg Config, st *store.Store, factory installer.Factory) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		factory: factory,
		log:     cfg.Logger,
	}
}

// IsRunning reports whether a session is live.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil
}

// Stop asks the current engine to terminate and clears the session
// immediately, without waiting for confirmation. The eventual close event
// still reaches the session's own callbacks through its latch.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	sess := o.current
	o.current = nil
	o.mu.Unlock()
	if sess != nil {
		o.log.Info("stop requested")
		sess.inst.Kill()
	}
}

// Start begins a launch attempt for the given account. The context must
// outlive the game process (daemon lifetime, not request lifetime).
// Synchronous assembly failures are returned in the result and never
// create a session.
func (o *Orchestrator) Start(ctx context.Context, account domain.Account, ramGB float64, javaPath string, cb Callbacks) Result {
	o.mu.Lock()
	if o.current != nil {
		o.mu.Unlock()
		return Result{Error: alreadyRunning}
	}
	o.mu.Unlock()

	opts, err := o.buildOptions(ctx, account, ramGB, javaPath)
	if err != nil {
		return Result{Error: err.Error()}
	}

	sess := &session{account: account, started: time.Now()}
	inst, err := o.factory(func(ev installer.Event) { o.handleEvent(sess, cb, ev) })
	if err != nil {
		return Result{Error: formatError(err)}
	}
	sess.inst = inst

	o.mu.Lock()
	if o.current != nil {
		// lost the race against a concurrent start
		o.mu.Unlock()
		return Result{Error: alreadyRunning}
	}
	o.current = sess
	o.mu.Unlock()

	o.writeAuthSideFiles(account)

	o.log.WithFields(logrus.Fields{
		"username": account.Username,
		"ram_gb":   ramGB,
	}).Info("launch starting")

	// The launch task is owned by the session: its failure reports
	// through the same latch as engine error/close events, so a fire-
	// and-forget start cannot leak an unobserved failure.
	go func() {
		if err := inst.Launch(ctx, opts); err != nil {
			o.finish(sess, func() { cb.OnError(formatError(err)) })
		}
	}()

	return Result{OK: true}
}

func (o *Orchestrator) buildOptions(ctx context.Context, account domain.Account, ramGB float64, javaPath string) (installer.Options, error) {
	maxMB := int(math.Round(ramGB * 1024))
	minMB := int(math.Round((ramGB - 0.5) * 1024))
	if minMB < 512 {
		minMB = 512
	}

	width, height, err := o.store.Resolution(ctx)
	if err != nil {
		return installer.Options{}, fmt.Errorf("read resolution: %w", err)
	}
	resW, resH := defaultResWidth, defaultResHeight
	if width != 0 && width != sentinelResWidth {
		resW = width
	}
	if height != 0 && height != sentinelResHeight {
		resH = height
	}

	instanceDir := o.instanceDir()

	return installer.Options{
		ManifestURL: o.cfg.ManifestURL,
		BasePath:    o.cfg.BasePath,
		Instance:    o.cfg.Instance,
		Version:     o.cfg.Version,
		Loader: installer.Loader{
			Type:  o.cfg.LoaderType,
			Build: o.cfg.LoaderBuild,
		},
		Credentials: installer.Credentials{
			Username:     account.Username,
			UUID:         account.ID,
			AccessToken:  account.Token,
			TokenExpires: account.TokenExpires,
			IsAdmin:      account.IsAdmin,
		},
		JavaPath: javaPath,
		JVMArgs:  buildJVMArgs(account, o.cfg.APIBase, instanceDir),
		Memory:   installer.Memory{MinMB: minMB, MaxMB: maxMB},
		Screen:   installer.Screen{Width: resW, Height: resH},
		Verify:   true,
		Ignored:  ignoredPaths(),
	}, nil
}

func (o *Orchestrator) instanceDir() string {
	return filepath.Join(o.cfg.BasePath, "instances", o.cfg.Instance)
}

// handleEvent is the single boundary where heterogeneous engine signals
// become the normalized UI event shapes. No coalescing or rate limiting
// happens here; the receiver owns throttling.
func (o *Orchestrator) handleEvent(sess *session, cb Callbacks, ev installer.Event) {
	switch ev.Kind {
	case installer.EventExtract:
		cb.OnProgress(domain.ProgressEvent{Phase: domain.PhaseExtract})
	case installer.EventProgress:
		cb.OnProgress(domain.ProgressEvent{Phase: domain.PhaseProgress, Current: ev.Task, Total: ev.Total})
	case installer.EventCheck:
		cb.OnProgress(domain.ProgressEvent{Phase: domain.PhaseCheck, Current: ev.Task, Total: ev.Total})
	case installer.EventPatch:
		cb.OnProgress(domain.ProgressEvent{Phase: domain.PhasePatch})
	case installer.EventSpeed:
		cb.OnProgress(domain.ProgressEvent{Phase: domain.PhaseSpeed, Rate: ev.Speed})
	case installer.EventData:
		if line := cleanLogLine(ev.Data); line != "" {
			cb.OnLog(line)
		}
	case installer.EventClose:
		o.finish(sess, func() { cb.OnClose(ev.Code) })
	case installer.EventError:
		o.finish(sess, func() { cb.OnError(formatError(ev.Err)) })
	}
}

// finish runs the terminal callback at most once per session and clears
// the current-session reference if this session still owns it.
func (o *Orchestrator) finish(sess *session, fn func()) {
	sess.finishOnce.Do(func() {
		o.mu.Lock()
		if o.current == sess {
			o.current = nil
		}
		o.mu.Unlock()
		o.log.WithField("duration", time.Since(sess.started).Round(time.Second)).Info("launch finished")
		fn()
	})
}

// writeAuthSideFiles drops the credential descriptor where the in-game
// companion mod reads it. Best effort: a failure here must never block
// the launch.
func (o *Orchestrator) writeAuthSideFiles(account domain.Account) {
	payload, err := json.Marshal(map[string]any{
		"token":    account.Token,
		"username": account.Username,
		"expires":  account.TokenExpires,
	})
	if err != nil {
		return
	}
	for _, dir := range []string{o.cfg.AppDataDir, o.instanceDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			o.log.WithError(err).Debug("auth side-file dir")
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, authSideFileName), payload, 0o600); err != nil {
			o.log.WithError(err).Debug("auth side-file write")
		}
	}
}

// cleanLogLine accepts the two payload shapes engines emit for textual
// output (a bare value, or an argument pair whose last element is the
// line), strips terminal escape sequences and surrounding whitespace,
// and returns "" for lines not worth forwarding.
func cleanLogLine(payload any) string {
	var raw string
	switch v := payload.(type) {
	case string:
		raw = v
	case []any:
		if len(v) == 0 {
			return ""
		}
		last := v[len(v)-1]
		if s, ok := last.(string); ok {
			raw = s
		} else {
			raw = fmt.Sprint(last)
		}
	default:
		raw = fmt.Sprint(v)
	}
	return strings.TrimSpace(ansiEscape.ReplaceAllString(raw, ""))
}

// formatError turns whatever an engine reports into one display string:
// plain strings pass through, Go errors use Error(), structured payloads
// prefer their error/message fields and otherwise round-trip through
// JSON, and anything hopeless gets the fixed fallback.
func formatError(payload any) string {
	switch v := payload.(type) {
	case nil:
		return unknownLaunchError
	case string:
		return v
	case error:
		return v.Error()
	}
	if m, ok := payload.(map[string]any); ok {
		if s, ok := m["error"].(string); ok {
			return s
		}
		if s, ok := m["message"].(string); ok {
			return s
		}
	}
	if raw, err := json.Marshal(payload); err == nil {
		return string(raw)
	}
	return unknownLaunchError
}

// buildJVMArgs assembles the fixed runtime tuning baseline plus the
// account-bound system properties the server-auth companion expects.
func buildJVMArgs(account domain.Account, apiBase, instanceDir string) []string {
	args := []string{
		// server-auth companion
		"-Dkingdoms.token=" + account.Token,
		"-Dkingdoms.api.url=" + apiBase,

		// G1GC tuning (Aikar's flags, client-adjusted)
		"-XX:+UseG1GC",
		"-XX:+ParallelRefProcEnabled",
		"-XX:MaxGCPauseMillis=200",
		"-XX:+UnlockExperimentalVMOptions",
		"-XX:+DisableExplicitGC",
		"-XX:+AlwaysPreTouch",
		"-XX:G1NewSizePercent=30",
		"-XX:G1MaxNewSizePercent=40",
		"-XX:G1HeapRegionSize=8M",
		"-XX:G1ReservePercent=20",
		"-XX:G1HeapWastePercent=5",
		"-XX:G1MixedGCCountTarget=4",
		"-XX:InitiatingHeapOccupancyPercent=15",
		"-XX:G1MixedGCLiveThresholdPercent=90",
		"-XX:G1RSetUpdatingPauseTimePercent=5",
		"-XX:SurvivorRatio=32",
		"-XX:+PerfDisableSharedMem",
		"-XX:MaxTenuringThreshold=1",

		// crash dumps next to the instance
		"-XX:+HeapDumpOnOutOfMemoryError",
		"-XX:HeapDumpPath=" + filepath.Join(instanceDir, "heap_dump.hprof"),
		"-XX:+ShowCodeDetailsInExceptionMessages",
	}

	// Java 17 module grants required by the loader
	for _, pkg := range []string{
		"java.base/java.lang",
		"java.base/java.lang.reflect",
		"java.base/java.util",
		"java.base/java.util.concurrent",
		"java.base/java.io",
		"java.base/java.nio",
		"java.base/sun.nio.ch",
		"java.base/java.net",
		"java.base/java.text",
		"java.desktop/java.awt.font",
	} {
		args = append(args, "--add-opens", pkg+"=ALL-UNNAMED")
	}
	return args
}

// ignoredPaths lists instance-relative paths reconciliation must never
// delete: player-generated data plus files the loader writes itself.
func ignoredPaths() []string {
	return []string{
		"config/fml.toml",
		"options.txt",
		"optionsof.txt",
		"saves",
		"screenshots",
		"logs",
		"crash-reports",
		"resourcepacks",
		"shaderpacks",
		"local",
		"backups",
		"global_packs",
	}
}
