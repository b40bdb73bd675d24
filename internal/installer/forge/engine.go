// Package forge is the content engine for manifest-driven modded
// instances: it syncs the instance directory against the remote content
// manifest, then runs the game process.
package forge

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"kingdoms-launcher/internal/domain"
	"kingdoms-launcher/internal/installer"
)

const speedInterval = 2 * time.Second

// Engine implements installer.Installer for one launch attempt.
type Engine struct {
	client  *http.Client
	log     *logrus.Logger
	handler installer.Handler

	mu     sync.Mutex
	cancel context.CancelFunc
	cmd    *exec.Cmd
	killed bool
}

// NewFactory returns an installer.Factory producing engines that fetch
// content through the given HTTP client. The client's transport is where
// the optional-content manifest filter is expected to sit.
func NewFactory(client *http.Client, logger *logrus.Logger) installer.Factory {
	return func(handler installer.Handler) (installer.Installer, error) {
		if client == nil {
			return nil, errors.New("content engine requires an http client")
		}
		if handler == nil {
			return nil, errors.New("content engine requires an event handler")
		}
		if logger == nil {
			logger = logrus.New()
		}
		return &Engine{client: client, log: logger, handler: handler}, nil
	}
}

// Kill terminates a running attempt: it aborts any in-flight sync work and
// kills the game process if one has started. Returns without waiting.
func (e *Engine) Kill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killed = true
	if e.cancel != nil {
		e.cancel()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
}

// Launch syncs the instance against the manifest and runs the game until
// it exits. Progress flows to the event handler; a pre-process failure is
// returned as an error, the process exit itself as a close event.
func (e *Engine) Launch(ctx context.Context, opts installer.Options) error {
	if opts.ManifestURL == "" {
		return errors.New("manifest url is required")
	}
	if opts.BasePath == "" {
		return errors.New("base path is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	instanceDir := filepath.Join(opts.BasePath, "instances", opts.Instance)
	if err := os.MkdirAll(instanceDir, 0o755); err != nil {
		return fmt.Errorf("create instance dir: %w", err)
	}

	manifest, err := e.fetchManifest(ctx, opts.ManifestURL)
	if err != nil {
		return fmt.Errorf("fetch manifest: %w", err)
	}

	missing, err := e.checkFiles(instanceDir, manifest, opts.Verify)
	if err != nil {
		return err
	}
	if err := e.downloadFiles(ctx, instanceDir, missing, len(manifest)); err != nil {
		return err
	}
	if err := e.pruneFiles(instanceDir, manifest, opts.Ignored); err != nil {
		e.log.WithError(err).Warn("prune unmanaged files")
	}

	return e.runGame(ctx, instanceDir, opts)
}

func (e *Engine) fetchManifest(ctx context.Context, url string) ([]domain.ManifestEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest endpoint returned %d", res.StatusCode)
	}
	var manifest []domain.ManifestEntry
	if err := json.NewDecoder(res.Body).Decode(&manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// checkFiles verifies local files against the manifest and returns the
// entries that must be (re)downloaded. Emits one check event per entry.
func (e *Engine) checkFiles(instanceDir string, manifest []domain.ManifestEntry, verify bool) ([]domain.ManifestEntry, error) {
	var missing []domain.ManifestEntry
	total := int64(len(manifest))
	for i, entry := range manifest {
		e.handler(installer.Event{Kind: installer.EventCheck, Task: int64(i + 1), Total: total})
		if entry.Path == "" {
			continue
		}
		local := filepath.Join(instanceDir, filepath.FromSlash(entry.Path))
		info, err := os.Stat(local)
		if err != nil || info.Size() != entry.Size {
			missing = append(missing, entry)
			continue
		}
		if verify && entry.Hash != "" {
			ok, err := fileHashMatches(local, entry.Hash)
			if err != nil {
				return nil, fmt.Errorf("hash %s: %w", entry.Path, err)
			}
			if !ok {
				missing = append(missing, entry)
			}
		}
	}
	return missing, nil
}

func (e *Engine) downloadFiles(ctx context.Context, instanceDir string, entries []domain.ManifestEntry, manifestTotal int) error {
	if len(entries) == 0 {
		return nil
	}

	var downloaded atomic.Int64
	speedCtx, stopSpeed := context.WithCancel(ctx)
	defer stopSpeed()
	go e.reportSpeed(speedCtx, &downloaded)

	total := int64(len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.handler(installer.Event{Kind: installer.EventProgress, Task: int64(i + 1), Total: total})
		if err := e.downloadFile(ctx, instanceDir, entry, &downloaded); err != nil {
			return fmt.Errorf("download %s: %w", entry.Path, err)
		}
	}
	e.log.WithFields(logrus.Fields{
		"downloaded": len(entries),
		"manifest":   manifestTotal,
	}).Info("content sync complete")
	return nil
}

func (e *Engine) downloadFile(ctx context.Context, instanceDir string, entry domain.ManifestEntry, counter *atomic.Int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return err
	}
	res, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", res.StatusCode)
	}

	local := filepath.Join(instanceDir, filepath.FromSlash(entry.Path))
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}
	out, err := os.Create(local)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, countingReader{res.Body, counter}); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// reportSpeed samples the download counter and emits one speed event per
// interval, mirroring how transfer rates are surfaced elsewhere.
func (e *Engine) reportSpeed(ctx context.Context, counter *atomic.Int64) {
	ticker := time.NewTicker(speedInterval)
	defer ticker.Stop()
	last := int64(0)
	lastTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			current := counter.Load()
			elapsed := now.Sub(lastTime).Seconds()
			if elapsed > 0 {
				e.handler(installer.Event{
					Kind:  installer.EventSpeed,
					Speed: int64(float64(current-last) / elapsed),
				})
			}
			last = current
			lastTime = now
		}
	}
}

// pruneFiles removes local files that are no longer in the manifest.
// Only directories the manifest actually manages are touched, and the
// ignore list (player-generated data) is always left alone.
func (e *Engine) pruneFiles(instanceDir string, manifest []domain.ManifestEntry, ignored []string) error {
	managed := make(map[string]struct{}, len(manifest))
	managedDirs := make(map[string]struct{})
	for _, entry := range manifest {
		if entry.Path == "" {
			continue
		}
		managed[entry.Path] = struct{}{}
		if top, _, ok := strings.Cut(entry.Path, "/"); ok {
			managedDirs[top] = struct{}{}
		}
	}

	return filepath.WalkDir(instanceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(instanceDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		top, _, ok := strings.Cut(rel, "/")
		if !ok {
			return nil
		}
		if _, isManaged := managedDirs[top]; !isManaged {
			return nil
		}
		for _, ig := range ignored {
			if rel == ig || strings.HasPrefix(rel, ig+"/") {
				return nil
			}
		}
		if _, keep := managed[rel]; !keep {
			e.log.WithField("path", rel).Debug("removing unmanaged file")
			return os.Remove(path)
		}
		return nil
	})
}

func (e *Engine) runGame(ctx context.Context, instanceDir string, opts installer.Options) error {
	javaBin := opts.JavaPath
	if javaBin == "" {
		javaBin = "java"
	}

	args := []string{
		fmt.Sprintf("-Xms%dM", opts.Memory.MinMB),
		fmt.Sprintf("-Xmx%dM", opts.Memory.MaxMB),
	}
	args = append(args, opts.JVMArgs...)

	versionJar := opts.Version
	if opts.Loader.Type != "" {
		versionJar = fmt.Sprintf("%s-%s", opts.Version, opts.Loader.Build)
	}
	args = append(args, "-jar", filepath.Join(opts.BasePath, "versions", opts.Version, versionJar+".jar"))

	args = append(args,
		"--username", opts.Credentials.Username,
		"--uuid", opts.Credentials.UUID,
		"--accessToken", opts.Credentials.AccessToken,
		"--width", strconv.Itoa(opts.Screen.Width),
		"--height", strconv.Itoa(opts.Screen.Height),
	)
	args = append(args, opts.GameArgs...)

	cmd := exec.Command(javaBin, args...)
	cmd.Dir = instanceDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("game stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	e.mu.Lock()
	if e.killed {
		e.mu.Unlock()
		return errors.New("launch aborted")
	}
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("start game process: %w", err)
	}
	e.cmd = cmd
	e.mu.Unlock()

	e.log.WithField("pid", cmd.Process.Pid).Info("game process started")

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		e.handler(installer.Event{Kind: installer.EventData, Data: scanner.Text()})
	}

	code := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			return fmt.Errorf("wait for game process: %w", err)
		}
	}
	e.handler(installer.Event{Kind: installer.EventClose, Code: code})
	return nil
}

type countingReader struct {
	io.Reader
	counter *atomic.Int64
}

func (r countingReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	r.counter.Add(int64(n))
	return n, err
}

func fileHashMatches(path, want string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return strings.EqualFold(hex.EncodeToString(h.Sum(nil)), want), nil
}

var _ installer.Installer = (*Engine)(nil)
