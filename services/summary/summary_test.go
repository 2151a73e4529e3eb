package summary

import (
	"context"
	"path/filepath"
	"testing"

	"renewbot-backend/services/renewal"
	"renewbot-backend/services/reporter"
	"renewbot-backend/services/sites"
	"renewbot-backend/services/userstore"

	"github.com/stretchr/testify/require"
)

type okAdapter struct{}

func (okAdapter) Info() sites.Info { return sites.Info{ID: "ns"} }
func (okAdapter) Login(ctx context.Context, account, password string) sites.LoginResult {
	return sites.LoginResult{OK: true, Cookie: "c"}
}
func (okAdapter) Renew(ctx context.Context, req sites.RenewRequest) sites.RenewalResult {
	return sites.RenewalResult{
		Account: req.Account,
		Site:    "ns",
		Outcome: sites.OutcomeSuccess,
		Message: "checked in",
	}
}
func (okAdapter) ExpiredSignatures() []string { return nil }

func TestRunCoversAllUsers(t *testing.T) {
	store := userstore.Open(filepath.Join(t.TempDir(), "data.json"))
	err := store.Update(func(data *userstore.Data) error {
		for _, uid := range []string{"u1", "u2"} {
			user := data.EnsureUser(uid)
			user.DisplayName = "user " + uid
			user.Accounts["ns"] = map[string]userstore.Account{
				uid + "-acc": {Username: uid + "-acc", Password: "pw", Cookie: "c"},
			}
		}
		return nil
	})
	require.NoError(t, err)

	registry := sites.NewRegistry()
	require.NoError(t, registry.Register(okAdapter{}))
	executor := renewal.NewExecutor(store, registry, nil, renewal.Options{})
	service := NewService(store, executor, reporter.New(), EmailConfig{})

	page, err := service.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, page.ResultId)
	require.Contains(t, page.Content, "user u1")
	require.Contains(t, page.Content, "user u2")
	require.Contains(t, page.Content, "✅")
}
