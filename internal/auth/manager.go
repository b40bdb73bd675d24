package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"kingdoms-launcher/internal/domain"
	"kingdoms-launcher/internal/store"
)

// Token lifecycle windows, in seconds.
const (
	refreshThreshold = 3600 // refresh preemptively when less than 1h remains
	gracePeriod      = 1800 // still try a refresh up to 30min past expiry
)

// Fixed login failure messages keyed by HTTP status.
var loginMessages = map[int]string{
	401: "Incorrect username or password.",
	403: "Account disabled or email not verified.",
	429: "Too many attempts. Try again in a few minutes.",
	500: "Server error (500). Try again later.",
	502: "Server unreachable (502).",
	503: "Service unavailable (503).",
	504: "Server timeout (504).",
}

// ErrConnectivity is the message reported when the community service
// cannot be reached at all (result code 0).
const ErrConnectivity = "Could not reach the server. Check your connection."

// LoginResult is what the login form consumes: either an account, or a
// status code plus a ready-to-display message.
type LoginResult struct {
	OK      bool            `json:"ok"`
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Account *domain.Account `json:"account,omitempty"`
}

// Manager owns the account list: login, token refresh, multi-account
// switching and removal. It keeps the legacy single-account slot mirrored
// for older in-game companions.
type Manager struct {
	apiBase string
	client  *http.Client
	store   *store.Store
	log     *logrus.Logger
	now     func() time.Time
}

type Config struct {
	APIBase    string
	HTTPClient *http.Client
	Logger     *logrus.Logger
	Now        func() time.Time
}

func NewManager(cfg Config, st *store.Store) *Manager {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		apiBase: cfg.APIBase,
		client:  cfg.HTTPClient,
		store:   st,
		log:     cfg.Logger,
		now:     cfg.Now,
	}
}

// migrateIfNeeded moves a legacy single-account record into the account
// list. Runs at most once effectively: once the list is non-empty it is a
// no-op.
func (m *Manager) migrateIfNeeded(ctx context.Context) error {
	accounts, err := m.store.Accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) > 0 {
		return nil
	}
	legacy, err := m.store.LegacyAccount(ctx)
	if err != nil || legacy == nil {
		return err
	}
	if err := m.store.SetAccounts(ctx, []domain.Account{*legacy}); err != nil {
		return err
	}
	return m.store.SetActiveAccountID(ctx, legacy.ID)
}

// ActiveAccount returns the active account without touching the network.
func (m *Manager) ActiveAccount(ctx context.Context) (*domain.Account, error) {
	if err := m.migrateIfNeeded(ctx); err != nil {
		return nil, err
	}
	accounts, err := m.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	activeID, err := m.store.ActiveAccountID(ctx)
	if err != nil {
		return nil, err
	}
	if activeID == "" || len(accounts) == 0 {
		return nil, nil
	}
	for i := range accounts {
		if accounts[i].ID == activeID {
			acc := accounts[i]
			return &acc, nil
		}
	}
	return nil, nil
}

// Accounts lists all known accounts without their tokens.
func (m *Manager) Accounts(ctx context.Context) ([]domain.AccountSummary, error) {
	if err := m.migrateIfNeeded(ctx); err != nil {
		return nil, err
	}
	accounts, err := m.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.AccountSummary, len(accounts))
	for i := range accounts {
		summaries[i] = accounts[i].Summary()
	}
	return summaries, nil
}

func (m *Manager) upsertAccount(ctx context.Context, updated domain.Account) error {
	accounts, err := m.store.Accounts(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range accounts {
		if accounts[i].ID == updated.ID {
			accounts[i] = updated
			replaced = true
			break
		}
	}
	if !replaced {
		accounts = append(accounts, updated)
	}
	return m.store.SetAccounts(ctx, accounts)
}

// SwitchAccount makes the account with the given id active. Unknown ids
// are a no-op returning nil.
func (m *Manager) SwitchAccount(ctx context.Context, id string) (*domain.Account, error) {
	accounts, err := m.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].ID == id {
			if err := m.store.SetActiveAccountID(ctx, id); err != nil {
				return nil, err
			}
			acc := accounts[i]
			return &acc, nil
		}
	}
	return nil, nil
}

// RemoveAccount drops an account from the list. When the removed account
// was active, the first remaining account (or none) becomes active and the
// legacy slot follows. Returns the new active account.
func (m *Manager) RemoveAccount(ctx context.Context, id string) (*domain.Account, error) {
	accounts, err := m.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	kept := accounts[:0:0]
	for i := range accounts {
		if accounts[i].ID != id {
			kept = append(kept, accounts[i])
		}
	}
	if err := m.store.SetAccounts(ctx, kept); err != nil {
		return nil, err
	}

	activeID, err := m.store.ActiveAccountID(ctx)
	if err != nil {
		return nil, err
	}
	if activeID == id {
		var next *domain.Account
		nextID := ""
		if len(kept) > 0 {
			acc := kept[0]
			next = &acc
			nextID = acc.ID
		}
		if err := m.store.SetActiveAccountID(ctx, nextID); err != nil {
			return nil, err
		}
		if err := m.store.SetLegacyAccount(ctx, next); err != nil {
			return nil, err
		}
		return next, nil
	}
	return m.ActiveAccount(ctx)
}

// Logout removes the account with the given id, defaulting to the active
// one when id is empty. Returns the new active account.
func (m *Manager) Logout(ctx context.Context, id string) (*domain.Account, error) {
	if id == "" {
		active, err := m.ActiveAccount(ctx)
		if err != nil {
			return nil, err
		}
		if active == nil {
			return nil, nil
		}
		id = active.ID
	}
	return m.RemoveAccount(ctx, id)
}

// Login authenticates against the community service. Network and HTTP
// failures are reported through the result, not the error; the error only
// covers local state persistence.
func (m *Manager) Login(ctx context.Context, username, password string) (LoginResult, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiBase+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return LoginResult{}, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := m.client.Do(req)
	if err != nil {
		m.log.WithError(err).Warn("login request failed")
		return LoginResult{Code: 0, Message: ErrConnectivity}, nil
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		message, ok := loginMessages[res.StatusCode]
		if !ok {
			message = fmt.Sprintf("Error %d.", res.StatusCode)
		}
		return LoginResult{Code: res.StatusCode, Message: message}, nil
	}

	var data struct {
		Token    string `json:"token"`
		Expires  int64  `json:"expires"`
		Username string `json:"username"`
		IsAdmin  bool   `json:"is_admin"`
	}
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		m.log.WithError(err).Warn("login response malformed")
		return LoginResult{Code: 0, Message: ErrConnectivity}, nil
	}

	account := domain.Account{
		Username:     data.Username,
		ID:           OfflineUUID(data.Username),
		Token:        data.Token,
		TokenExpires: data.Expires,
		IsAdmin:      data.IsAdmin,
	}

	if err := m.upsertAccount(ctx, account); err != nil {
		return LoginResult{}, err
	}
	if err := m.store.SetActiveAccountID(ctx, account.ID); err != nil {
		return LoginResult{}, err
	}
	// legacy single-account mirror
	if err := m.store.SetLegacyAccount(ctx, &account); err != nil {
		return LoginResult{}, err
	}

	m.log.WithField("username", account.Username).Info("login succeeded")
	return LoginResult{OK: true, Account: &account}, nil
}

// refreshToken exchanges the account token for a fresh one. Any transport
// failure, non-2xx status or unsuccessful payload yields nil without
// mutating stored state.
func (m *Manager) refreshToken(ctx context.Context, account domain.Account) *domain.Account {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiBase+"/auth/refresh-token", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+account.Token)

	res, err := m.client.Do(req)
	if err != nil {
		m.log.WithError(err).Debug("token refresh failed")
		return nil
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil
	}

	var data struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil || !data.Success {
		return nil
	}

	updated := account
	updated.Token = data.Token
	updated.TokenExpires = data.Expires
	if err := m.upsertAccount(ctx, updated); err != nil {
		m.log.WithError(err).Warn("persist refreshed token")
		return nil
	}
	if err := m.store.SetLegacyAccount(ctx, &updated); err != nil {
		m.log.WithError(err).Warn("mirror refreshed token")
	}
	return &updated
}

// Account is the startup/periodic entry point. It applies the token
// lifecycle: return the account untouched while plenty of validity
// remains, refresh inside the refresh window, and remove the account once
// past the grace period. A failed refresh on a not-yet-expired token is a
// soft failure: the stale account is returned unchanged rather than
// forcing a logout over a transient error.
func (m *Manager) Account(ctx context.Context) (*domain.Account, error) {
	account, err := m.ActiveAccount(ctx)
	if err != nil || account == nil {
		return nil, err
	}

	now := m.now().Unix()

	if account.TokenExpires > now+refreshThreshold {
		return account, nil
	}

	if account.TokenExpires > now-gracePeriod {
		if refreshed := m.refreshToken(ctx, *account); refreshed != nil {
			return refreshed, nil
		}
		if account.TokenExpires > now {
			return account, nil
		}
	}

	// token expired beyond recovery: drop the account
	m.log.WithField("username", account.Username).Info("token expired, removing account")
	if _, err := m.RemoveAccount(ctx, account.ID); err != nil {
		return nil, err
	}
	if err := m.store.SetLegacyAccount(ctx, nil); err != nil {
		return nil, err
	}
	return nil, nil
}
