package renewal

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"renewbot-backend/services/sites"
	"renewbot-backend/services/userstore"

	"github.com/stretchr/testify/require"
)

type scriptedAdapter struct {
	mu sync.Mutex

	id         string
	signatures []string

	// renew responses keyed by the cookie presented with the call
	renewByCookie map[string]sites.RenewalResult
	login         sites.LoginResult

	renewCalls int
	loginCalls int
}

func (a *scriptedAdapter) Info() sites.Info {
	return sites.Info{ID: a.id, Name: a.id, Emoji: "🔧"}
}

func (a *scriptedAdapter) Login(ctx context.Context, account, password string) sites.LoginResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loginCalls++
	return a.login
}

func (a *scriptedAdapter) Renew(ctx context.Context, req sites.RenewRequest) sites.RenewalResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.renewCalls++
	result := a.renewByCookie[req.Cookie]
	result.Account = req.Account
	result.Site = a.id
	return result
}

func (a *scriptedAdapter) ExpiredSignatures() []string { return a.signatures }

type recordingAuditor struct {
	mu      sync.Mutex
	entries []sites.RenewalResult
}

func (r *recordingAuditor) Append(ctx context.Context, uid string, result sites.RenewalResult, source Source, actor Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, result)
	return nil
}

func seedStore(t *testing.T, cookie string) *userstore.Store {
	t.Helper()
	store := userstore.Open(filepath.Join(t.TempDir(), "data.json"))
	err := store.Update(func(data *userstore.Data) error {
		user := data.EnsureUser("u1")
		user.Accounts["ns"] = map[string]userstore.Account{
			"acc1": {Username: "acc1", Password: "pw", Cookie: cookie},
		}
		return nil
	})
	require.NoError(t, err)
	return store
}

func newTestExecutor(t *testing.T, store *userstore.Store, adapter sites.Adapter, auditor Auditor) *Executor {
	t.Helper()
	registry := sites.NewRegistry()
	require.NoError(t, registry.Register(adapter))
	return NewExecutor(store, registry, auditor, Options{})
}

func singleTarget() BatchRequest {
	return BatchRequest{
		Targets: map[string]map[string][]string{"u1": {"ns": {"acc1"}}},
		Source:  SourceManual,
		Actor:   ActorUser,
	}
}

func TestRunPlainSuccess(t *testing.T) {
	store := seedStore(t, "old-cookie")
	adapter := &scriptedAdapter{
		id: "ns",
		renewByCookie: map[string]sites.RenewalResult{
			"old-cookie": {Outcome: sites.OutcomeSuccess, Message: "checked in, earned 5", CreditAmount: 5},
		},
	}
	executor := newTestExecutor(t, store, adapter, nil)

	out := executor.Run(context.Background(), singleTarget())
	require.NoError(t, out.PersistErr)

	result := out.Results["u1"]["ns"][0]
	require.Equal(t, sites.OutcomeSuccess, result.Outcome)
	require.False(t, result.CookieRefreshed)
	require.Equal(t, 1, adapter.renewCalls)
	require.Equal(t, 0, adapter.loginCalls)
}

func TestRunRefreshThenSuccessStoresNewToken(t *testing.T) {
	store := seedStore(t, "stale")
	adapter := &scriptedAdapter{
		id:         "ns",
		signatures: []string{"session expired"},
		renewByCookie: map[string]sites.RenewalResult{
			"stale": {Outcome: sites.OutcomeFailure, Message: "session expired signature"},
			"T2":    {Outcome: sites.OutcomeSuccess, Message: "checked in"},
		},
		login: sites.LoginResult{OK: true, Cookie: "T2"},
	}
	executor := newTestExecutor(t, store, adapter, nil)

	out := executor.Run(context.Background(), singleTarget())
	require.NoError(t, out.PersistErr)

	result := out.Results["u1"]["ns"][0]
	require.Equal(t, sites.OutcomeRefreshedSuccess, result.Outcome)
	require.True(t, result.CookieRefreshed)
	require.Equal(t, 2, adapter.renewCalls)
	require.Equal(t, 1, adapter.loginCalls)

	data, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "T2", data.Users["u1"].Accounts["ns"]["acc1"].Cookie)
}

func TestRunRefreshLoginFailureLeavesTokenUnchanged(t *testing.T) {
	store := seedStore(t, "stale")
	adapter := &scriptedAdapter{
		id:         "ns",
		signatures: []string{"session expired"},
		renewByCookie: map[string]sites.RenewalResult{
			"stale": {Outcome: sites.OutcomeFailure, Message: "session expired signature"},
		},
		login: sites.LoginResult{OK: false, Message: "bad credentials"},
	}
	executor := newTestExecutor(t, store, adapter, nil)

	out := executor.Run(context.Background(), singleTarget())
	require.NoError(t, out.PersistErr)

	result := out.Results["u1"]["ns"][0]
	require.Equal(t, sites.OutcomeRefreshedFailure, result.Outcome)
	require.Contains(t, result.Message, "bad credentials")
	// only one renew attempt: a failed refresh must not retry
	require.Equal(t, 1, adapter.renewCalls)

	data, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "stale", data.Users["u1"].Accounts["ns"]["acc1"].Cookie)
}

func TestRunRefreshThenFailure(t *testing.T) {
	store := seedStore(t, "stale")
	adapter := &scriptedAdapter{
		id:         "ns",
		signatures: []string{"session expired"},
		renewByCookie: map[string]sites.RenewalResult{
			"stale": {Outcome: sites.OutcomeFailure, Message: "session expired signature"},
			"T2":    {Outcome: sites.OutcomeFailure, Message: "still refused"},
		},
		login: sites.LoginResult{OK: true, Cookie: "T2"},
	}
	executor := newTestExecutor(t, store, adapter, nil)

	out := executor.Run(context.Background(), singleTarget())
	result := out.Results["u1"]["ns"][0]
	require.Equal(t, sites.OutcomeRefreshedFailure, result.Outcome)
	require.True(t, result.CookieRefreshed)
	// exactly one retry even though the retried result failed again
	require.Equal(t, 2, adapter.renewCalls)
	require.Equal(t, 1, adapter.loginCalls)

	// the login did succeed, the refreshed token must still be stored
	data, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "T2", data.Users["u1"].Accounts["ns"]["acc1"].Cookie)
}

func TestRunUnknownSite(t *testing.T) {
	store := seedStore(t, "c")
	adapter := &scriptedAdapter{id: "ns"}
	executor := newTestExecutor(t, store, adapter, nil)

	out := executor.Run(context.Background(), BatchRequest{
		Targets: map[string]map[string][]string{"u1": {"nowhere": {"acc1"}}},
	})
	result := out.Results["u1"]["nowhere"][0]
	require.Equal(t, sites.OutcomeFailure, result.Outcome)
	require.Contains(t, result.Message, "no adapter registered")
}

func TestRunFeedsAuditor(t *testing.T) {
	store := seedStore(t, "old-cookie")
	adapter := &scriptedAdapter{
		id: "ns",
		renewByCookie: map[string]sites.RenewalResult{
			"old-cookie": {Outcome: sites.OutcomeSuccess, Message: "earned 3", CreditAmount: 3},
		},
	}
	auditor := &recordingAuditor{}
	executor := newTestExecutor(t, store, adapter, auditor)

	executor.Run(context.Background(), singleTarget())
	require.Len(t, auditor.entries, 1)
	require.Equal(t, 3, auditor.entries[0].CreditAmount)
}

func TestTargetsForUser(t *testing.T) {
	store := seedStore(t, "c")
	data, err := store.Load()
	require.NoError(t, err)

	targets := TargetsForUser(data, "u1")
	require.Equal(t, map[string]map[string][]string{"u1": {"ns": {"acc1"}}}, targets)
	require.Nil(t, TargetsForUser(data, "missing"))
}
