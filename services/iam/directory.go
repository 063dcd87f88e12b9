package iam

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/RnD-sandbox/image-sharing/pkg/cloudapi"
)

// DefaultEnterpriseURL is the public enterprise management endpoint.
const DefaultEnterpriseURL = "https://enterprise.cloud.ibm.com"

// UnknownAccountName labels accounts whose name could not be resolved.
const UnknownAccountName = "Unknown"

// ErrNoAccounts is returned when no trusted profile matches the selected accounts.
var ErrNoAccounts = errors.New("no trusted profiles match the target accounts")

// Account is a child account reachable through a trusted profile.
type Account struct {
	AccountID string `json:"account_id"`
	ProfileID string `json:"profile_id"`
	Name      string `json:"name"`
}

// TrustedProfile is an IAM trusted profile of the enterprise identity.
type TrustedProfile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
}

// AccountGroup is an enterprise account group.
type AccountGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EnterpriseAccount is an account that belongs to the enterprise.
type EnterpriseAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Selector chooses the target accounts. Exactly one of the account group fields or
// AccountList is expected to be set.
type Selector struct {
	EnterpriseID     string
	AccountGroupID   string
	AccountGroupName string
	// AccountList holds account ids or account names.
	AccountList []string
}

// Directory resolves target accounts from IAM and the enterprise API.
type Directory struct {
	api           *cloudapi.Client
	iamURL        string
	enterpriseURL string
	logger        zerolog.Logger
}

// DirectoryOptions configures a Directory.
type DirectoryOptions struct {
	IAMURL        string
	EnterpriseURL string
	Logger        zerolog.Logger
}

// NewDirectory constructs a Directory.
func NewDirectory(api *cloudapi.Client, opts DirectoryOptions) *Directory {
	if api == nil {
		api = cloudapi.New()
	}
	iamURL := strings.TrimRight(strings.TrimSpace(opts.IAMURL), "/")
	if iamURL == "" {
		iamURL = DefaultIAMURL
	}
	entURL := strings.TrimRight(strings.TrimSpace(opts.EnterpriseURL), "/")
	if entURL == "" {
		entURL = DefaultEnterpriseURL
	}
	return &Directory{api: api, iamURL: iamURL, enterpriseURL: entURL, logger: opts.Logger}
}

// ListTrustedProfiles returns the trusted profiles visible to token.
func (d *Directory) ListTrustedProfiles(ctx context.Context, token Token) ([]TrustedProfile, error) {
	req := cloudapi.Request{
		URL:   d.iamURL + "/identity/profiles",
		Query: url.Values{"access_token": {token.AccessToken}},
	}
	resp, err := d.api.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list trusted profiles: %w", err)
	}
	var body struct {
		Profiles []TrustedProfile `json:"profiles"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("list trusted profiles: %w", err)
	}
	return body.Profiles, nil
}

// ListAccountGroups returns the account groups of the enterprise.
func (d *Directory) ListAccountGroups(ctx context.Context, token Token, enterpriseID string) ([]AccountGroup, error) {
	var groups []AccountGroup
	err := d.paginate(ctx, token, "/v1/account-groups", url.Values{
		"enterprise_id":   {enterpriseID},
		"include_deleted": {"false"},
	}, func(resp *cloudapi.Response) (string, error) {
		var page struct {
			NextURL   string         `json:"next_url"`
			Resources []AccountGroup `json:"resources"`
		}
		if err := resp.Decode(&page); err != nil {
			return "", err
		}
		groups = append(groups, page.Resources...)
		return page.NextURL, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list account groups: %w", err)
	}
	return groups, nil
}

// ListAccounts returns the enterprise accounts, restricted to accountGroupID when set.
func (d *Directory) ListAccounts(ctx context.Context, token Token, enterpriseID, accountGroupID string) ([]EnterpriseAccount, error) {
	query := url.Values{
		"enterprise_id":   {enterpriseID},
		"include_deleted": {"false"},
	}
	if accountGroupID != "" {
		query.Set("account_group_id", accountGroupID)
	}
	var accounts []EnterpriseAccount
	err := d.paginate(ctx, token, "/v1/accounts", query, func(resp *cloudapi.Response) (string, error) {
		var page struct {
			NextURL   string              `json:"next_url"`
			Resources []EnterpriseAccount `json:"resources"`
		}
		if err := resp.Decode(&page); err != nil {
			return "", err
		}
		accounts = append(accounts, page.Resources...)
		return page.NextURL, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// ResolveAccounts maps the selector onto trusted profiles and returns the target accounts
// in profile order.
func (d *Directory) ResolveAccounts(ctx context.Context, token Token, sel Selector) ([]Account, error) {
	targets, err := d.targetAccounts(ctx, token, sel)
	if err != nil {
		return nil, err
	}

	profiles, err := d.ListTrustedProfiles(ctx, token)
	if err != nil {
		return nil, err
	}

	accounts := FilterProfiles(profiles, targets)
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	d.logger.Info().Int("accounts", len(accounts)).Int("profiles", len(profiles)).Msg("resolved target accounts")
	return accounts, nil
}

// FilterProfiles keeps the profiles whose account is in targets (account id to name).
func FilterProfiles(profiles []TrustedProfile, targets map[string]string) []Account {
	accounts := make([]Account, 0, len(profiles))
	for _, p := range profiles {
		name, ok := targets[p.AccountID]
		if !ok {
			continue
		}
		if name == "" {
			name = UnknownAccountName
		}
		accounts = append(accounts, Account{AccountID: p.AccountID, ProfileID: p.ID, Name: name})
	}
	return accounts
}

func (d *Directory) targetAccounts(ctx context.Context, token Token, sel Selector) (map[string]string, error) {
	if len(sel.AccountList) > 0 {
		all, err := d.ListAccounts(ctx, token, sel.EnterpriseID, "")
		if err != nil {
			return nil, err
		}
		return matchAccountList(all, sel.AccountList, d.logger), nil
	}

	groupID := sel.AccountGroupID
	if groupID == "" {
		if sel.AccountGroupName == "" {
			return nil, errors.New("account group id, account group name or account list is required")
		}
		groups, err := d.ListAccountGroups(ctx, token, sel.EnterpriseID)
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			if g.Name == sel.AccountGroupName {
				groupID = g.ID
				break
			}
		}
		if groupID == "" {
			return nil, fmt.Errorf("no account group found with the name %q", sel.AccountGroupName)
		}
	}

	accounts, err := d.ListAccounts(ctx, token, sel.EnterpriseID, groupID)
	if err != nil {
		return nil, err
	}
	targets := make(map[string]string, len(accounts))
	for _, a := range accounts {
		targets[a.ID] = a.Name
	}
	return targets, nil
}

func matchAccountList(all []EnterpriseAccount, list []string, logger zerolog.Logger) map[string]string {
	byID := make(map[string]string, len(all))
	byName := make(map[string]string, len(all))
	for _, a := range all {
		byID[a.ID] = a.Name
		byName[a.Name] = a.ID
	}

	targets := make(map[string]string, len(list))
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if name, ok := byID[entry]; ok {
			targets[entry] = name
			continue
		}
		if id, ok := byName[entry]; ok {
			targets[id] = entry
			continue
		}
		// Accounts outside the listing may still have a trusted profile.
		logger.Warn().Str("account", entry).Msg("account not found in enterprise listing")
		targets[entry] = UnknownAccountName
	}
	return targets
}

func (d *Directory) paginate(ctx context.Context, token Token, path string, query url.Values, page func(*cloudapi.Response) (string, error)) error {
	req := cloudapi.Request{URL: d.enterpriseURL + path, Query: query}.
		WithHeader("Authorization", token.Bearer())
	for {
		resp, err := d.api.Get(ctx, req)
		if err != nil {
			return err
		}
		next, err := page(resp)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		nextURL, err := d.resolveNext(next)
		if err != nil {
			return err
		}
		req.URL = nextURL
		req.Query = nil
	}
}

func (d *Directory) resolveNext(next string) (string, error) {
	base, err := url.Parse(d.enterpriseURL + "/")
	if err != nil {
		return "", fmt.Errorf("parse enterprise url: %w", err)
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("parse next_url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
