package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	pkgerr "github.com/pkg/errors"

	"RelayIM/tools/errs"
)

// HTTPRefresher calls the relay's /auth/refresh endpoint.
type HTTPRefresher struct {
	URL    string // http://host:port/auth/refresh
	Client *http.Client
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", "", pkgerr.Wrap(err, "marshal refresh request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return "", "", pkgerr.Wrap(err, "build refresh request")
	}
	req.Header.Set("Content-Type", "application/json")

	cli := r.Client
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := cli.Do(req)
	if err != nil {
		return "", "", pkgerr.Wrap(err, "refresh request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", "", errs.ErrCredentialExpired
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", pkgerr.Errorf("refresh failed: status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", pkgerr.Wrap(err, "decode refresh response")
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return "", "", errs.ErrCredentialExpired.WithDetail("empty token pair")
	}
	return out.AccessToken, out.RefreshToken, nil
}
