package iam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RnD-sandbox/image-sharing/pkg/cloudapi"
)

func newDirectoryServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/identity/profiles", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ent-token", r.URL.Query().Get("access_token"))
		_, _ = w.Write([]byte(`{"profiles":[
			{"id":"prof-a","name":"pa","account_id":"acct-a"},
			{"id":"prof-x","name":"px","account_id":"acct-x"},
			{"id":"prof-b","name":"pb","account_id":"acct-b"},
			{"id":"prof-c","name":"pc","account_id":"acct-c"}
		]}`))
	})
	mux.HandleFunc("/v1/account-groups", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ent-token", r.Header.Get("Authorization"))
		assert.Equal(t, "ent-1", r.URL.Query().Get("enterprise_id"))
		_, _ = w.Write([]byte(`{"resources":[{"id":"grp-1","name":"power"},{"id":"grp-2","name":"other"}]}`))
	})
	mux.HandleFunc("/v1/accounts", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("account_group_id") == "grp-2":
			_, _ = w.Write([]byte(`{"resources":[{"id":"acct-z","name":"Zeta"}]}`))
		case q.Get("account_group_id") == "grp-1":
			_, _ = w.Write([]byte(`{"resources":[{"id":"acct-a","name":"Alpha"},{"id":"acct-b","name":""}]}`))
		case q.Get("next_docid") == "2":
			_, _ = w.Write([]byte(`{"resources":[{"id":"acct-c","name":"Gamma"}]}`))
		default:
			_, _ = w.Write([]byte(`{"next_url":"/v1/accounts?next_docid=2","resources":[{"id":"acct-a","name":"Alpha"},{"id":"acct-b","name":"Beta"}]}`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveAccountsByGroupName(t *testing.T) {
	t.Parallel()

	srv := newDirectoryServer(t)
	dir := NewDirectory(cloudapi.New(), DirectoryOptions{IAMURL: srv.URL, EnterpriseURL: srv.URL})

	accounts, err := dir.ResolveAccounts(context.Background(), Token{AccessToken: "ent-token"}, Selector{
		EnterpriseID:     "ent-1",
		AccountGroupName: "power",
	})
	require.NoError(t, err)
	require.Equal(t, []Account{
		{AccountID: "acct-a", ProfileID: "prof-a", Name: "Alpha"},
		{AccountID: "acct-b", ProfileID: "prof-b", Name: UnknownAccountName},
	}, accounts)
}

func TestResolveAccountsUnknownGroup(t *testing.T) {
	t.Parallel()

	srv := newDirectoryServer(t)
	dir := NewDirectory(cloudapi.New(), DirectoryOptions{IAMURL: srv.URL, EnterpriseURL: srv.URL})

	_, err := dir.ResolveAccounts(context.Background(), Token{AccessToken: "ent-token"}, Selector{
		EnterpriseID:     "ent-1",
		AccountGroupName: "missing",
	})
	require.ErrorContains(t, err, `no account group found with the name "missing"`)
}

func TestResolveAccountsByList(t *testing.T) {
	t.Parallel()

	srv := newDirectoryServer(t)
	dir := NewDirectory(cloudapi.New(), DirectoryOptions{IAMURL: srv.URL, EnterpriseURL: srv.URL})

	accounts, err := dir.ResolveAccounts(context.Background(), Token{AccessToken: "ent-token"}, Selector{
		EnterpriseID: "ent-1",
		AccountList:  []string{"Gamma", "acct-a", "acct-x"},
	})
	require.NoError(t, err)
	require.Equal(t, []Account{
		{AccountID: "acct-a", ProfileID: "prof-a", Name: "Alpha"},
		{AccountID: "acct-x", ProfileID: "prof-x", Name: UnknownAccountName},
		{AccountID: "acct-c", ProfileID: "prof-c", Name: "Gamma"},
	}, accounts)
}

func TestResolveAccountsNoMatch(t *testing.T) {
	t.Parallel()

	srv := newDirectoryServer(t)
	dir := NewDirectory(cloudapi.New(), DirectoryOptions{IAMURL: srv.URL, EnterpriseURL: srv.URL})

	_, err := dir.ResolveAccounts(context.Background(), Token{AccessToken: "ent-token"}, Selector{
		EnterpriseID:   "ent-1",
		AccountGroupID: "grp-2",
	})
	require.ErrorIs(t, err, ErrNoAccounts)
}

func TestResolveAccountsRequiresSelector(t *testing.T) {
	t.Parallel()

	dir := NewDirectory(cloudapi.New(), DirectoryOptions{})
	_, err := dir.ResolveAccounts(context.Background(), Token{AccessToken: "t"}, Selector{EnterpriseID: "ent-1"})
	require.Error(t, err)
}

func TestFilterProfiles(t *testing.T) {
	t.Parallel()

	got := FilterProfiles([]TrustedProfile{
		{ID: "p1", AccountID: "a1"},
		{ID: "p2", AccountID: "a2"},
	}, map[string]string{"a2": "Two"})
	require.Equal(t, []Account{{AccountID: "a2", ProfileID: "p2", Name: "Two"}}, got)
}
