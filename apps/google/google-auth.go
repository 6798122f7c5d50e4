package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/sheets/v4"
)

// Scopes covers folder permission grants plus spreadsheet cell writes.
var Scopes = []string{drive.DriveScope, sheets.SpreadsheetsScope}

// NewAuthenticatedClient builds an HTTP client from a Google credentials
// file. Service-account credentials authenticate directly; installed-app
// credentials need a previously stored token file (obtained through the
// regular consent flow).
func NewAuthenticatedClient(ctx context.Context, credentialsPath, tokenPath string) (*http.Client, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", credentialsPath, err)
	}

	if isServiceAccount(data) {
		config, err := google.JWTConfigFromJSON(data, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account credentials: %w", err)
		}
		return config.Client(ctx), nil
	}

	config, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}

	token, err := tokenFromFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("no stored token at %s, run the consent flow first: %w", tokenPath, err)
	}

	return config.Client(ctx, token), nil
}

func isServiceAccount(data []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Type == "service_account"
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("unable to parse token file: %w", err)
	}
	return token, nil
}

// SaveToken stores an oauth2 token for later runs.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to create token file %s: %w", path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
