package renewal_test

import (
	"context"
	"path/filepath"
	"testing"

	"renewbot-backend/lib/testutil"
	"renewbot-backend/services/auditlog"
	"renewbot-backend/services/renewal"
	"renewbot-backend/services/sites"
	"renewbot-backend/services/userstore"

	"github.com/stretchr/testify/require"
)

// expiringAdapter fails with an expiry signature until the executor
// refreshes the session, then succeeds with a credited check-in.
type expiringAdapter struct {
	credit int
}

func (a *expiringAdapter) Info() sites.Info { return sites.Info{ID: "ns"} }

func (a *expiringAdapter) Login(ctx context.Context, account, password string) sites.LoginResult {
	return sites.LoginResult{OK: true, Cookie: "T2"}
}

func (a *expiringAdapter) Renew(ctx context.Context, req sites.RenewRequest) sites.RenewalResult {
	if req.Cookie != "T2" {
		return sites.RenewalResult{
			Account: req.Account,
			Site:    "ns",
			Outcome: sites.OutcomeFailure,
			Message: "session expired signature",
		}
	}
	return sites.RenewalResult{
		Account:      req.Account,
		Site:         "ns",
		Outcome:      sites.OutcomeSuccess,
		Message:      "checked in",
		CreditAmount: a.credit,
	}
}

func (a *expiringAdapter) ExpiredSignatures() []string {
	return []string{"session expired"}
}

func runExpiry(t *testing.T, credit int) (*userstore.Store, *auditlog.Service, renewal.BatchResult) {
	t.Helper()

	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "renewal-e2e",
		DbSchema: auditlog.Schema,
	})
	t.Cleanup(cleanup)

	store := userstore.Open(filepath.Join(t.TempDir(), "data.json"))
	err := store.Update(func(data *userstore.Data) error {
		user := data.EnsureUser("u1")
		user.Accounts["ns"] = map[string]userstore.Account{
			"acc1": {Username: "acc1", Password: "pw", Cookie: "stale"},
		}
		return nil
	})
	require.NoError(t, err)

	registry := sites.NewRegistry()
	require.NoError(t, registry.Register(&expiringAdapter{credit: credit}))

	audit := auditlog.NewService(res.DB, auditlog.Options{})
	executor := renewal.NewExecutor(store, registry, audit, renewal.Options{})

	out := executor.Run(context.Background(), renewal.BatchRequest{
		Targets: map[string]map[string][]string{"u1": {"ns": {"acc1"}}},
		Source:  renewal.SourceAuto,
		Actor:   renewal.ActorSystem,
	})
	return store, audit, out
}

func TestExpiredSessionRefreshEndToEnd(t *testing.T) {
	store, audit, out := runExpiry(t, 3)
	require.NoError(t, out.PersistErr)

	result := out.Results["u1"]["ns"][0]
	require.Equal(t, sites.OutcomeRefreshedSuccess, result.Outcome)
	require.True(t, result.CookieRefreshed)

	data, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "T2", data.Users["u1"].Accounts["ns"]["acc1"].Cookie)

	// the credited success passes the value filter
	entries, err := audit.Entries(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(3), entries[0].CreditAmount)
}

func TestExpiredSessionRefreshWithoutCredit(t *testing.T) {
	_, audit, out := runExpiry(t, 0)
	require.Equal(t, sites.OutcomeRefreshedSuccess, out.Results["u1"]["ns"][0].Outcome)

	// an uncredited success is filtered out of the audit log
	entries, err := audit.Entries(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}
