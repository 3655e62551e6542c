package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultFederationURL = "https://signin.aws.amazon.com/federation"
	defaultConsoleURL    = "https://console.aws.amazon.com/"
	defaultIssuer        = "rvm-breakglass"
)

type federationHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FederationClient calls the AWS federation endpoint to build console URLs.
type FederationClient struct {
	client        federationHTTPClient
	federationURL string
	consoleURL    string
	issuer        string
}

// NewFederationClient creates a federation client. Empty arguments fall back
// to the commercial partition endpoint, the console home page and the default
// issuer.
func NewFederationClient(federationURL string, issuer string, destination string) *FederationClient {
	return newFederationClient(
		&http.Client{Timeout: 15 * time.Second},
		federationURL,
		destination,
		issuer,
	)
}

func newFederationClient(client federationHTTPClient, federationURL string, consoleURL string, issuer string) *FederationClient {
	if federationURL == "" {
		federationURL = defaultFederationURL
	}
	if consoleURL == "" {
		consoleURL = defaultConsoleURL
	}
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &FederationClient{
		client:        client,
		federationURL: federationURL,
		consoleURL:    consoleURL,
		issuer:        issuer,
	}
}

// sessionBlob is the credential document the getSigninToken action expects.
// The JSON keys are fixed by the federation endpoint.
type sessionBlob struct {
	SessionID    string `json:"sessionId"`
	SessionKey   string `json:"sessionKey"`
	SessionToken string `json:"sessionToken"`
}

// BuildConsoleURL exchanges creds for a sign-in token and returns a login URL.
// A zero durationSeconds leaves the session duration to the federation endpoint.
func (f *FederationClient) BuildConsoleURL(ctx context.Context, creds Credentials, durationSeconds int32) (string, error) {
	token, err := f.signinToken(ctx, creds, durationSeconds)
	if err != nil {
		return "", err
	}
	return f.loginURL(token), nil
}

func (f *FederationClient) signinToken(ctx context.Context, creds Credentials, durationSeconds int32) (string, error) {
	sessionJSON, err := json.Marshal(sessionBlob{
		SessionID:    creds.AccessKeyID,
		SessionKey:   creds.SecretAccessKey,
		SessionToken: creds.SessionToken,
	})
	if err != nil {
		return "", &FederationError{Op: "getSigninToken", Err: fmt.Errorf("failed to marshal session: %w", err)}
	}

	tokenURL := f.federationURL + "?Action=getSigninToken"
	if durationSeconds > 0 {
		tokenURL += fmt.Sprintf("&SessionDuration=%d", durationSeconds)
	}
	tokenURL += "&Session=" + url.QueryEscape(string(sessionJSON))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", &FederationError{Op: "getSigninToken", Err: fmt.Errorf("failed to build federation request: %w", err)}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FederationError{Op: "getSigninToken", Err: fmt.Errorf("failed to request signin token: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &FederationError{Op: "getSigninToken", Err: fmt.Errorf("failed to read federation response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &FederationError{Op: "getSigninToken", Err: fmt.Errorf("federation endpoint returned HTTP %d: %s", resp.StatusCode, string(body))}
	}

	var tokenResp struct {
		SigninToken string `json:"SigninToken"`
	}

	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", &FederationError{Op: "getSigninToken", Err: fmt.Errorf("failed to parse signin token response: %w", err)}
	}

	if tokenResp.SigninToken == "" {
		return "", &FederationError{Op: "getSigninToken", Err: errors.New("received empty signin token from federation endpoint")}
	}

	return tokenResp.SigninToken, nil
}

func (f *FederationClient) loginURL(token string) string {
	return fmt.Sprintf(
		"%s?Action=login&Issuer=%s&Destination=%s&SigninToken=%s",
		f.federationURL,
		url.QueryEscape(f.issuer),
		url.QueryEscape(f.consoleURL),
		url.QueryEscape(token),
	)
}
