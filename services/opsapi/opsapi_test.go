package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"renewbot-backend/lib/testutil"
	"renewbot-backend/services/accounts"
	"renewbot-backend/services/auditlog"
	"renewbot-backend/services/renewal"
	"renewbot-backend/services/reporter"
	"renewbot-backend/services/sites"
	"renewbot-backend/services/summary"
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
		Message: "checked in, earned 2",
	}
}
func (okAdapter) ExpiredSignatures() []string { return nil }

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "opsapi",
		DbSchema: auditlog.Schema,
	})
	t.Cleanup(cleanup)

	store := userstore.Open(filepath.Join(t.TempDir(), "data.json"))
	err := store.Update(func(data *userstore.Data) error {
		user := data.EnsureUser("u1")
		user.DisplayName = "alice"
		user.Accounts["ns"] = map[string]userstore.Account{
			"acc1": {Username: "acc1", Password: "pw", Cookie: "c"},
		}
		return nil
	})
	require.NoError(t, err)

	registry := sites.NewRegistry()
	require.NoError(t, registry.Register(okAdapter{}))

	audit := auditlog.NewService(res.DB, auditlog.Options{})
	executor := renewal.NewExecutor(store, registry, audit, renewal.Options{})
	rep := reporter.New()
	accountsSvc := accounts.NewService(store, registry, nil)
	summarySvc := summary.NewService(store, executor, rep, summary.EmailConfig{})

	server := httptest.NewServer(NewHandler(store, executor, rep, accountsSvc, audit, summarySvc))
	t.Cleanup(server.Close)
	return server
}

func TestHealth(t *testing.T) {
	server := setupServer(t)
	res, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRunUserBatch(t *testing.T) {
	server := setupServer(t)

	res, err := http.Post(server.URL+"/api/users/u1/batch", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Results map[string]map[string][]sites.RenewalResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Len(t, body.Results["u1"]["ns"], 1)
	require.Equal(t, sites.OutcomeSuccess, body.Results["u1"]["ns"][0].Outcome)
}

func TestRunUserBatchUnknownUser(t *testing.T) {
	server := setupServer(t)

	res, err := http.Post(server.URL+"/api/users/ghost/batch", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSummaryAndPaging(t *testing.T) {
	server := setupServer(t)

	res, err := http.Post(server.URL+"/api/summary", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var page reporter.Page
	require.NoError(t, json.NewDecoder(res.Body).Decode(&page))
	require.NotEmpty(t, page.ResultId)

	pageRes, err := http.Get(server.URL + "/api/results/" + page.ResultId + "/pages/0")
	require.NoError(t, err)
	defer pageRes.Body.Close()
	require.Equal(t, http.StatusOK, pageRes.StatusCode)

	missing, err := http.Get(server.URL + "/api/results/nope/pages/0")
	require.NoError(t, err)
	defer missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListAccounts(t *testing.T) {
	server := setupServer(t)

	res, err := http.Get(server.URL + "/api/users/u1/accounts")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var views []accounts.AccountView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&views))
	require.Len(t, views, 1)
	require.Equal(t, "acc1", views[0].Name)
}

func TestCreditStatsBadDays(t *testing.T) {
	server := setupServer(t)

	res, err := http.Get(server.URL + "/api/users/u1/stats?days=potato")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestAddAndRemoveAccount(t *testing.T) {
	server := setupServer(t)
	client := server.Client()

	res, err := client.Post(server.URL+"/api/users/u2/accounts", "application/json",
		strings.NewReader(`{"displayName":"bob","site":"ns","account":"acc9","password":"pw"}`))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	list, err := client.Get(server.URL + "/api/users/u2/accounts")
	require.NoError(t, err)
	defer list.Body.Close()
	require.Equal(t, http.StatusOK, list.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/users/u2/accounts/ns/acc9", nil)
	require.NoError(t, err)
	del, err := client.Do(req)
	require.NoError(t, err)
	defer del.Body.Close()
	require.Equal(t, http.StatusOK, del.StatusCode)

	// the user's last account is gone, so the user is gone too
	gone, err := client.Get(server.URL + "/api/users/u2/accounts")
	require.NoError(t, err)
	defer gone.Body.Close()
	require.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func TestAddAccountUnknownSite(t *testing.T) {
	server := setupServer(t)

	res, err := http.Post(server.URL+"/api/users/u1/accounts", "application/json",
		strings.NewReader(`{"site":"nope","account":"a","password":"p"}`))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSetScheduleEndpoint(t *testing.T) {
	server := setupServer(t)
	client := server.Client()

	req, err := http.NewRequest(http.MethodPut, server.URL+"/api/users/u1/schedule",
		strings.NewReader(`{"hour":3,"minute":45}`))
	require.NoError(t, err)
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	bad, err := http.NewRequest(http.MethodPut, server.URL+"/api/users/u1/schedule",
		strings.NewReader(`{"hour":15,"minute":0}`))
	require.NoError(t, err)
	badRes, err := client.Do(bad)
	require.NoError(t, err)
	defer badRes.Body.Close()
	require.Equal(t, http.StatusBadRequest, badRes.StatusCode)
}

func TestSetModeEndpoint(t *testing.T) {
	server := setupServer(t)
	client := server.Client()

	req, err := http.NewRequest(http.MethodPut, server.URL+"/api/users/u1/modes/ns",
		strings.NewReader(`{"enabled":true}`))
	require.NoError(t, err)
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}
