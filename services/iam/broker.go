package iam

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/RnD-sandbox/image-sharing/pkg/cloudapi"
)

const (
	// DefaultIAMURL is the public IAM identity endpoint.
	DefaultIAMURL = "https://iam.cloud.ibm.com"

	grantAPIKey = "urn:ibm:params:oauth:grant-type:apikey"
	grantAssume = "urn:ibm:params:oauth:grant-type:assume"
)

// Token is an IAM access token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Bearer formats the token for an Authorization header.
func (t Token) Bearer() string {
	return "Bearer " + t.AccessToken
}

// Broker performs IAM token grants.
type Broker struct {
	api    *cloudapi.Client
	iamURL string
}

// NewBroker constructs a Broker. An empty iamURL selects DefaultIAMURL.
func NewBroker(api *cloudapi.Client, iamURL string) *Broker {
	if api == nil {
		api = cloudapi.New()
	}
	if strings.TrimSpace(iamURL) == "" {
		iamURL = DefaultIAMURL
	}
	return &Broker{api: api, iamURL: strings.TrimRight(iamURL, "/")}
}

// EnterpriseToken exchanges the enterprise API key for an access token.
func (b *Broker) EnterpriseToken(ctx context.Context, apiKey string) (Token, error) {
	if strings.TrimSpace(apiKey) == "" {
		return Token{}, errors.New("api key is required")
	}
	tok, err := b.grant(ctx, url.Values{
		"grant_type": {grantAPIKey},
		"apikey":     {apiKey},
	})
	if err != nil {
		return Token{}, fmt.Errorf("enterprise token: %w", err)
	}
	return tok, nil
}

// Exchange assumes the trusted profile in the child account using the enterprise token.
// It performs exactly one request and never retries.
func (b *Broker) Exchange(ctx context.Context, profileID, accountID, parentToken string) (Token, error) {
	if profileID == "" || accountID == "" {
		return Token{}, errors.New("profile id and account id are required")
	}
	tok, err := b.grant(ctx, url.Values{
		"grant_type":   {grantAssume},
		"access_token": {parentToken},
		"profile_id":   {profileID},
		"account_id":   {accountID},
	})
	if err != nil {
		return Token{}, fmt.Errorf("assume profile %s in account %s: %w", profileID, accountID, err)
	}
	return tok, nil
}

func (b *Broker) grant(ctx context.Context, form url.Values) (Token, error) {
	resp, err := b.api.Post(ctx, cloudapi.Form(b.iamURL+"/identity/token", form))
	if err != nil {
		return Token{}, err
	}
	var tok Token
	if err := resp.Decode(&tok); err != nil {
		return Token{}, err
	}
	if tok.AccessToken == "" {
		return Token{}, errors.New("token response missing access_token")
	}
	return tok, nil
}
