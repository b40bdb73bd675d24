package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kingdoms-launcher/internal/domain"
	"kingdoms-launcher/internal/repository/memory"
	"kingdoms-launcher/internal/store"
)

// ---- helpers ----

var testNow = time.Unix(1_700_000_000, 0)

type remoteServer struct {
	*httptest.Server
	loginStatus   int
	loginBody     map[string]any
	refreshStatus int
	refreshBody   map[string]any
	refreshCalls  atomic.Int64
	loginCalls    atomic.Int64
}

func newRemote(t *testing.T) *remoteServer {
	t.Helper()
	r := &remoteServer{
		loginStatus:   http.StatusOK,
		refreshStatus: http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, req *http.Request) {
		r.loginCalls.Add(1)
		w.WriteHeader(r.loginStatus)
		if r.loginBody != nil {
			_ = json.NewEncoder(w).Encode(r.loginBody)
		}
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, req *http.Request) {
		r.refreshCalls.Add(1)
		w.WriteHeader(r.refreshStatus)
		if r.refreshBody != nil {
			_ = json.NewEncoder(w).Encode(r.refreshBody)
		}
	})
	r.Server = httptest.NewServer(mux)
	t.Cleanup(r.Close)
	return r
}

func newManager(t *testing.T, apiBase string) (*Manager, *store.Store) {
	t.Helper()
	st := store.New(memory.NewStateRepository())
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	m := NewManager(Config{
		APIBase: apiBase,
		Logger:  logger,
		Now:     func() time.Time { return testNow },
	}, st)
	return m, st
}

func seedAccount(t *testing.T, st *store.Store, account domain.Account, active bool) {
	t.Helper()
	ctx := context.Background()
	accounts, err := st.Accounts(ctx)
	require.NoError(t, err)
	require.NoError(t, st.SetAccounts(ctx, append(accounts, account)))
	if active {
		require.NoError(t, st.SetActiveAccountID(ctx, account.ID))
	}
}

func testAccount(username string, expires int64) domain.Account {
	return domain.Account{
		Username:     username,
		ID:           OfflineUUID(username),
		Token:        "tok-" + username,
		TokenExpires: expires,
	}
}

// ---- login ----

func TestLoginSuccess(t *testing.T) {
	remote := newRemote(t)
	remote.loginBody = map[string]any{
		"token":    "fresh-token",
		"expires":  testNow.Unix() + 86400,
		"username": "alice",
		"is_admin": true,
	}
	m, st := newManager(t, remote.URL)

	result, err := m.Login(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	require.True(t, result.OK)
	require.NotNil(t, result.Account)
	assert.Equal(t, "alice", result.Account.Username)
	assert.Equal(t, OfflineUUID("alice"), result.Account.ID)
	assert.True(t, result.Account.IsAdmin)

	ctx := context.Background()
	accounts, err := st.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	activeID, err := st.ActiveAccountID(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.Account.ID, activeID)

	legacy, err := st.LegacyAccount(ctx)
	require.NoError(t, err)
	require.NotNil(t, legacy)
	assert.Equal(t, "fresh-token", legacy.Token)
}

func TestLoginUpsertsByID(t *testing.T) {
	remote := newRemote(t)
	remote.loginBody = map[string]any{
		"token":    "second-token",
		"expires":  testNow.Unix() + 86400,
		"username": "alice",
	}
	m, st := newManager(t, remote.URL)
	seedAccount(t, st, testAccount("alice", testNow.Unix()), true)

	result, err := m.Login(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	require.True(t, result.OK)

	accounts, err := st.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "second-token", accounts[0].Token)
}

func TestLoginStatusMapping(t *testing.T) {
	tests := []struct {
		status  int
		message string
	}{
		{401, "Incorrect username or password."},
		{403, "Account disabled or email not verified."},
		{429, "Too many attempts. Try again in a few minutes."},
		{500, "Server error (500). Try again later."},
		{502, "Server unreachable (502)."},
		{503, "Service unavailable (503)."},
		{504, "Server timeout (504)."},
		{418, "Error 418."},
	}
	for _, tc := range tests {
		remote := newRemote(t)
		remote.loginStatus = tc.status
		m, st := newManager(t, remote.URL)

		result, err := m.Login(context.Background(), "alice", "nope")
		require.NoError(t, err)
		assert.False(t, result.OK)
		assert.Equal(t, tc.status, result.Code)
		assert.Equal(t, tc.message, result.Message)

		accounts, err := st.Accounts(context.Background())
		require.NoError(t, err)
		assert.Empty(t, accounts, "failed login must not create accounts")
	}
}

func TestLoginConnectivityFailure(t *testing.T) {
	remote := newRemote(t)
	remote.Close() // unreachable
	m, _ := newManager(t, remote.URL)

	result, err := m.Login(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, ErrConnectivity, result.Message)
}

// ---- legacy migration ----

func TestLegacyMigration(t *testing.T) {
	remote := newRemote(t)
	m, st := newManager(t, remote.URL)

	legacy := testAccount("olduser", testNow.Unix()+86400)
	require.NoError(t, st.SetLegacyAccount(context.Background(), &legacy))

	active, err := m.ActiveAccount(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "olduser", active.Username)

	accounts, err := st.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	// second call must not duplicate
	_, err = m.ActiveAccount(context.Background())
	require.NoError(t, err)
	accounts, err = st.Accounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

// ---- multi-account ----

func TestSwitchAccount(t *testing.T) {
	remote := newRemote(t)
	m, st := newManager(t, remote.URL)
	a := testAccount("alice", testNow.Unix()+86400)
	b := testAccount("bob", testNow.Unix()+86400)
	seedAccount(t, st, a, true)
	seedAccount(t, st, b, false)

	switched, err := m.SwitchAccount(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, switched)
	assert.Equal(t, "bob", switched.Username)

	activeID, err := st.ActiveAccountID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b.ID, activeID)

	// unknown id is a no-op
	switched, err = m.SwitchAccount(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, switched)
	activeID, err = st.ActiveAccountID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b.ID, activeID)
}

func TestRemoveActiveAccountPromotesFirstRemaining(t *testing.T) {
	remote := newRemote(t)
	m, st := newManager(t, remote.URL)
	a := testAccount("alice", testNow.Unix()+86400)
	b := testAccount("bob", testNow.Unix()+86400)
	seedAccount(t, st, a, true)
	seedAccount(t, st, b, false)

	next, err := m.RemoveAccount(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "bob", next.Username)

	legacy, err := st.LegacyAccount(context.Background())
	require.NoError(t, err)
	require.NotNil(t, legacy)
	assert.Equal(t, "bob", legacy.Username)
}

func TestRemoveSoleAccountClearsEverything(t *testing.T) {
	remote := newRemote(t)
	m, st := newManager(t, remote.URL)
	a := testAccount("alice", testNow.Unix()+86400)
	seedAccount(t, st, a, true)

	next, err := m.RemoveAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, next)

	accounts, err := st.Accounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)

	activeID, err := st.ActiveAccountID(context.Background())
	require.NoError(t, err)
	assert.Empty(t, activeID)
}

func TestLogoutDefaultsToActive(t *testing.T) {
	remote := newRemote(t)
	m, st := newManager(t, remote.URL)
	a := testAccount("alice", testNow.Unix()+86400)
	seedAccount(t, st, a, true)

	next, err := m.Logout(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, next)

	accounts, err := st.Accounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

// ---- token lifecycle ----

func TestAccountValidTokenSkipsRefresh(t *testing.T) {
	remote := newRemote(t)
	m, st := newManager(t, remote.URL)
	a := testAccount("alice", testNow.Unix()+7200)
	seedAccount(t, st, a, true)

	account, err := m.Account(context.Background())
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, a.Token, account.Token)
	assert.EqualValues(t, 0, remote.refreshCalls.Load())
}

func TestAccountRefreshWindowSuccess(t *testing.T) {
	remote := newRemote(t)
	remote.refreshBody = map[string]any{
		"success": true,
		"token":   "renewed",
		"expires": testNow.Unix() + 86400,
	}
	m, st := newManager(t, remote.URL)
	a := testAccount("alice", testNow.Unix()+1800)
	seedAccount(t, st, a, true)

	account, err := m.Account(context.Background())
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "renewed", account.Token)
	assert.EqualValues(t, 1, remote.refreshCalls.Load())

	accounts, err := st.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "renewed", accounts[0].Token)
}

func TestAccountRefreshSoftFailure(t *testing.T) {
	remote := newRemote(t)
	remote.refreshStatus = http.StatusInternalServerError
	m, st := newManager(t, remote.URL)
	// inside the refresh window but not yet expired
	a := testAccount("alice", testNow.Unix()+1800)
	seedAccount(t, st, a, true)

	account, err := m.Account(context.Background())
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, a.Token, account.Token, "stale token returned unchanged on transient refresh failure")
	assert.EqualValues(t, 1, remote.refreshCalls.Load())

	accounts, err := st.Accounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 1, "account must not be removed")
}

func TestAccountRefreshFailurePastExpiryRemoves(t *testing.T) {
	remote := newRemote(t)
	remote.refreshBody = map[string]any{"success": false}
	m, st := newManager(t, remote.URL)
	// expired, but inside the grace period: refresh is attempted once
	a := testAccount("alice", testNow.Unix()-600)
	seedAccount(t, st, a, true)

	account, err := m.Account(context.Background())
	require.NoError(t, err)
	assert.Nil(t, account)
	assert.EqualValues(t, 1, remote.refreshCalls.Load())

	accounts, err := st.Accounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)

	legacy, err := st.LegacyAccount(context.Background())
	require.NoError(t, err)
	assert.Nil(t, legacy)
}

func TestAccountExpiredPastGraceRemovedWithoutRefresh(t *testing.T) {
	remote := newRemote(t)
	m, st := newManager(t, remote.URL)
	a := testAccount("alice", testNow.Unix()-2000)
	seedAccount(t, st, a, true)

	account, err := m.Account(context.Background())
	require.NoError(t, err)
	assert.Nil(t, account)
	assert.EqualValues(t, 0, remote.refreshCalls.Load(), "no refresh past the grace period")

	accounts, err := st.Accounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestAccountNoActiveAccount(t *testing.T) {
	remote := newRemote(t)
	m, _ := newManager(t, remote.URL)

	account, err := m.Account(context.Background())
	require.NoError(t, err)
	assert.Nil(t, account)
	assert.EqualValues(t, 0, remote.refreshCalls.Load())
}
