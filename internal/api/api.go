// Package api exposes the launcher over a local HTTP control surface:
// REST routes for the UI's actions and a server-sent-events stream for
// the launch event push channel.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"kingdoms-launcher/internal/auth"
	"kingdoms-launcher/internal/domain"
	"kingdoms-launcher/internal/launcher"
	"kingdoms-launcher/internal/store"
)

const logBufferMax = 2000

// Handler wires HTTP routes to the launcher subsystems.
type Handler struct {
	auth     *auth.Manager
	launcher *launcher.Orchestrator
	store    *store.Store
	hub      *Hub
	logs     *logBuffer
	client   *http.Client
	log      *logrus.Logger

	// baseCtx outlives any single request; launches are bound to it.
	baseCtx context.Context

	version     string
	gameVersion string
	manifestURL string
	statusURL   string
	releaseURL  string

	jwtSecret string
	tokenTTL  time.Duration
}

// Config collects the handler's collaborators and static settings.
type Config struct {
	Auth     *auth.Manager
	Launcher *launcher.Orchestrator
	Store    *store.Store
	Logger   *logrus.Logger
	BaseCtx  context.Context
	// HTTPClient serves status/update/optional-mods probes. Unlike the
	// engine's client it carries no manifest filter.
	HTTPClient *http.Client

	Version     string
	GameVersion string
	ManifestURL string
	StatusURL   string
	ReleaseURL  string

	JWTSecret string
	TokenTTL  time.Duration
}

func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.BaseCtx == nil {
		cfg.BaseCtx = context.Background()
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	return &Handler{
		auth:        cfg.Auth,
		launcher:    cfg.Launcher,
		store:       cfg.Store,
		hub:         NewHub(),
		logs:        newLogBuffer(logBufferMax),
		client:      cfg.HTTPClient,
		log:         cfg.Logger,
		baseCtx:     cfg.BaseCtx,
		version:     cfg.Version,
		gameVersion: cfg.GameVersion,
		manifestURL: cfg.ManifestURL,
		statusURL:   cfg.StatusURL,
		releaseURL:  cfg.ReleaseURL,
		jwtSecret:   cfg.JWTSecret,
		tokenTTL:    cfg.TokenTTL,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": h.version})
	})
	router.POST("/api/session", h.createSession)

	api := router.Group("/api", h.requireSession())
	{
		api.POST("/auth/login", h.login)
		api.GET("/auth/account", h.account)
		api.GET("/auth/accounts", h.accounts)
		api.POST("/auth/switch", h.switchAccount)
		api.POST("/auth/remove", h.removeAccount)
		api.POST("/auth/logout", h.logout)

		api.POST("/launch/start", h.startLaunch)
		api.POST("/launch/stop", h.stopLaunch)
		api.GET("/launch/running", h.isRunning)
		api.GET("/launch/logs", h.launchLogs)

		api.GET("/mods/optional", h.optionalMods)
		api.GET("/mods/enabled", h.enabledMods)
		api.PUT("/mods/enabled", h.setEnabledMods)

		api.GET("/settings", h.getSettings)
		api.PUT("/settings", h.putSettings)

		api.GET("/profiles", h.listProfiles)
		api.POST("/profiles", h.saveProfile)
		api.DELETE("/profiles/:id", h.deleteProfile)
		api.POST("/profiles/:id/activate", h.activateProfile)

		api.GET("/server/status", h.serverStatus)
		api.GET("/update/check", h.updateCheck)

		api.GET("/events", h.events)
	}
}

// ── auth ─────────────────────────────────────────────────────────────────

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result.OK {
		h.log.WithField("username", req.Username).Info("login succeeded")
	} else {
		h.log.WithField("username", req.Username).Info("login failed")
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) account(c *gin.Context) {
	account, err := h.auth.Account(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

func (h *Handler) accounts(c *gin.Context) {
	summaries, err := h.auth.Accounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *Handler) switchAccount(c *gin.Context) {
	var req struct {
		ID string `json:"uuid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := h.auth.SwitchAccount(c.Request.Context(), req.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if account == nil {
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "account": account})
}

func (h *Handler) removeAccount(c *gin.Context) {
	var req struct {
		ID string `json:"uuid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	next, err := h.auth.RemoveAccount(c.Request.Context(), req.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "nextAccount": next})
}

func (h *Handler) logout(c *gin.Context) {
	var req struct {
		ID string `json:"uuid"`
	}
	_ = c.ShouldBindJSON(&req) // body optional: default to active account
	next, err := h.auth.Logout(c.Request.Context(), req.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "nextAccount": next})
}

// ── launch ───────────────────────────────────────────────────────────────

func (h *Handler) startLaunch(c *gin.Context) {
	ctx := c.Request.Context()
	account, err := h.auth.ActiveAccount(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if account == nil {
		c.JSON(http.StatusOK, launcher.Result{Error: "Not logged in."})
		return
	}

	ram, err := h.store.RAM(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	javaPath, err := h.store.JavaPath(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logs.Clear()
	started := time.Now()

	result := h.launcher.Start(h.baseCtx, *account, ram, javaPath, launcher.Callbacks{
		OnProgress: func(ev domain.ProgressEvent) {
			h.hub.Publish("launch:progress", ev)
		},
		OnLog: func(line string) {
			h.logs.Append(line)
			h.hub.Publish("launch:log", domain.LogEvent{Line: line})
		},
		OnClose: func(code int) {
			h.log.WithFields(logrus.Fields{
				"code":     code,
				"duration": time.Since(started).Round(time.Minute),
			}).Info("game closed")
			h.hub.Publish("launch:close", domain.CloseEvent{Code: code})
			h.hub.Publish("launch:state", domain.StateEvent{Running: false})
		},
		OnError: func(message string) {
			h.log.WithField("message", message).Warn("launch error")
			h.hub.Publish("launch:error", domain.ErrorEvent{Message: message})
			h.hub.Publish("launch:state", domain.StateEvent{Running: false})
		},
	})

	if result.OK {
		h.hub.Publish("launch:state", domain.StateEvent{Running: true})
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) stopLaunch(c *gin.Context) {
	h.launcher.Stop()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) isRunning(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.launcher.IsRunning()})
}

func (h *Handler) launchLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"lines": h.logs.All()})
}

// ── optional content ─────────────────────────────────────────────────────

// optionalMods lists the manifest entries the player may toggle. Uses the
// unfiltered manifest on purpose: disabled entries must stay visible.
func (h *Handler) optionalMods(c *gin.Context) {
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, h.manifestURL, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	res, err := h.client.Do(req)
	if err != nil {
		c.JSON(http.StatusOK, []domain.ManifestEntry{})
		return
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		c.JSON(http.StatusOK, []domain.ManifestEntry{})
		return
	}
	var entries []domain.ManifestEntry
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		c.JSON(http.StatusOK, []domain.ManifestEntry{})
		return
	}
	optional := make([]domain.ManifestEntry, 0)
	for _, entry := range entries {
		if strings.HasPrefix(entry.Path, domain.OptionalPrefix) {
			optional = append(optional, entry)
		}
	}
	c.JSON(http.StatusOK, optional)
}

func (h *Handler) enabledMods(c *gin.Context) {
	paths, err := h.store.EnabledOptionalMods(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if paths == nil {
		paths = []string{}
	}
	c.JSON(http.StatusOK, paths)
}

func (h *Handler) setEnabledMods(c *gin.Context) {
	var req struct {
		Paths []string `json:"paths"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.SetEnabledOptionalMods(c.Request.Context(), req.Paths); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ── settings ─────────────────────────────────────────────────────────────

type settingsResponse struct {
	RAM              float64 `json:"ram"`
	ResolutionWidth  int     `json:"resolutionWidth"`
	ResolutionHeight int     `json:"resolutionHeight"`
	JavaPath         string  `json:"javaPath"`
}

func (h *Handler) getSettings(c *gin.Context) {
	ctx := c.Request.Context()
	ram, err := h.store.RAM(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	width, height, err := h.store.Resolution(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	javaPath, err := h.store.JavaPath(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settingsResponse{
		RAM:              ram,
		ResolutionWidth:  width,
		ResolutionHeight: height,
		JavaPath:         javaPath,
	})
}

func (h *Handler) putSettings(c *gin.Context) {
	var req struct {
		RAM              *float64 `json:"ram"`
		ResolutionWidth  *int     `json:"resolutionWidth"`
		ResolutionHeight *int     `json:"resolutionHeight"`
		JavaPath         *string  `json:"javaPath"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if req.RAM != nil {
		if err := h.store.SetRAM(ctx, *req.RAM); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if req.ResolutionWidth != nil || req.ResolutionHeight != nil {
		width, height, err := h.store.Resolution(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if req.ResolutionWidth != nil {
			width = *req.ResolutionWidth
		}
		if req.ResolutionHeight != nil {
			height = *req.ResolutionHeight
		}
		if err := h.store.SetResolution(ctx, width, height); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if req.JavaPath != nil {
		if err := h.store.SetJavaPath(ctx, *req.JavaPath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ── launch profiles ──────────────────────────────────────────────────────

func (h *Handler) listProfiles(c *gin.Context) {
	ctx := c.Request.Context()
	profiles, err := h.store.Profiles(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	activeID, err := h.store.ActiveProfileID(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles, "activeId": activeID})
}

func (h *Handler) saveProfile(c *gin.Context) {
	var profile domain.LaunchProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}

	ctx := c.Request.Context()
	profiles, err := h.store.Profiles(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	replaced := false
	for i := range profiles {
		if profiles[i].ID == profile.ID {
			profiles[i] = profile
			replaced = true
			break
		}
	}
	if !replaced {
		profiles = append(profiles, profile)
	}
	if err := h.store.SetProfiles(ctx, profiles); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) deleteProfile(c *gin.Context) {
	id := c.Param("id")
	if id == domain.DefaultProfileID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "the default profile cannot be deleted"})
		return
	}

	ctx := c.Request.Context()
	profiles, err := h.store.Profiles(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	kept := profiles[:0:0]
	for i := range profiles {
		if profiles[i].ID != id {
			kept = append(kept, profiles[i])
		}
	}
	if err := h.store.SetProfiles(ctx, kept); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	activeID, err := h.store.ActiveProfileID(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if activeID == id {
		if err := h.store.SetActiveProfileID(ctx, domain.DefaultProfileID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) activateProfile(c *gin.Context) {
	if err := h.store.SetActiveProfileID(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ── server status ────────────────────────────────────────────────────────

func (h *Handler) serverStatus(c *gin.Context) {
	start := time.Now()
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, h.statusURL, nil)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"online": false})
		return
	}
	res, err := h.client.Do(req)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"online": false})
		return
	}
	defer res.Body.Close()
	ping := time.Since(start).Milliseconds()
	if res.StatusCode != http.StatusOK {
		c.JSON(http.StatusOK, gin.H{"online": false})
		return
	}

	var data struct {
		Online  bool `json:"online"`
		Players *struct {
			Online int `json:"online"`
			Max    int `json:"max"`
		} `json:"players"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		c.JSON(http.StatusOK, gin.H{"online": false})
		return
	}

	players, maxPlayers := 0, 200
	if data.Players != nil {
		players = data.Players.Online
		maxPlayers = data.Players.Max
	}
	version := data.Version
	if version == "" {
		version = h.gameVersion
	}
	c.JSON(http.StatusOK, gin.H{
		"online":     data.Online,
		"players":    players,
		"maxPlayers": maxPlayers,
		"ping":       ping / 2, // round trip halved
		"version":    version,
	})
}

// ── update check ─────────────────────────────────────────────────────────

// updateCheck races the releases endpoint against a fixed deadline and
// reports no update on any failure.
func (h *Handler) updateCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.releaseURL, nil)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	req.Header.Set("User-Agent", "kingdoms-launcher/"+h.version)

	res, err := h.client.Do(req)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}

	var data struct {
		TagName string `json:"tag_name"`
		Assets  []struct {
			Name        string `json:"name"`
			DownloadURL string `json:"browser_download_url"`
		} `json:"assets"`
	}
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}

	latest := strings.TrimPrefix(data.TagName, "v")
	if !isNewerVersion(latest, h.version) {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}

	downloadURL := ""
	if len(data.Assets) > 0 {
		downloadURL = data.Assets[0].DownloadURL
	}
	h.log.WithFields(logrus.Fields{"current": h.version, "latest": latest}).Info("update available")
	c.JSON(http.StatusOK, gin.H{
		"available":     true,
		"latestVersion": latest,
		"downloadUrl":   downloadURL,
	})
}

func isNewerVersion(latest, current string) bool {
	parse := func(v string) []int {
		parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
		nums := make([]int, len(parts))
		for i, p := range parts {
			nums[i], _ = strconv.Atoi(p)
		}
		return nums
	}
	l, c := parse(latest), parse(current)
	for i := 0; i < len(l) || i < len(c); i++ {
		lv, cv := 0, 0
		if i < len(l) {
			lv = l[i]
		}
		if i < len(c) {
			cv = c[i]
		}
		if lv != cv {
			return lv > cv
		}
	}
	return false
}

// ── event stream ─────────────────────────────────────────────────────────

func (h *Handler) events(c *gin.Context) {
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		}
	})
}
