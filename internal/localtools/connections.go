package localtools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/httpclient"
	"github.com/aideny-kr/chatcore/internal/model"
	"github.com/aideny-kr/chatcore/internal/vault"
)

// DBConnectionStore implements ConnectionStore directly against
// internal/storage's connections table. It takes a *sql.DB rather than a
// tenant-scoped *sql.Tx because a tool executor only ever needs read access
// to its own tenant's single connection row, already tenant-id-filtered in
// the WHERE clause rather than relying on RLS.
type DBConnectionStore struct {
	DB *sql.DB
}

// GetConnectionByProvider returns the tenant's connection row for provider
// ("netsuite", "shopify", "stripe"), or an error if none is configured.
func (s DBConnectionStore) GetConnectionByProvider(ctx context.Context, tenantID uuid.UUID, provider string) (*model.Connection, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, tenant_id, provider, label, status, encrypted_credentials,
		       encryption_key_version, metadata, created_at, updated_at
		FROM connections
		WHERE tenant_id = $1 AND provider = $2 AND status = 'active'
		ORDER BY created_at DESC LIMIT 1`, tenantID, provider)

	var c model.Connection
	var metadata []byte
	if err := row.Scan(&c.ID, &c.TenantID, &c.Provider, &c.Label, &c.Status, &c.EncryptedCredentials,
		&c.EncryptionKeyVersion, &metadata, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active %s connection configured for this tenant", provider)
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal connection metadata: %w", err)
		}
	}
	return &c, nil
}

// DBConnectorStore implements tool.ConnectorStore against the
// mcp_connectors table, decrypting the stored credential through the vault
// on every call rather than caching it in memory. Client is only needed for
// oauth2 connectors, whose tokens it refreshes against the token endpoint.
type DBConnectorStore struct {
	DB     *sql.DB
	Vault  *vault.Vault
	Client *httpclient.Client
}

// GetConnector returns one tenant's MCP connector row by id.
func (s DBConnectorStore) GetConnector(ctx context.Context, tenantID, connectorID uuid.UUID) (*model.McpConnector, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, tenant_id, provider, label, server_url, auth_type,
		       encrypted_credentials, encryption_key_version, status, is_enabled,
		       created_at, updated_at
		FROM mcp_connectors
		WHERE tenant_id = $1 AND id = $2`, tenantID, connectorID)

	var c model.McpConnector
	if err := row.Scan(&c.ID, &c.TenantID, &c.Provider, &c.Label, &c.ServerURL, &c.AuthType,
		&c.EncryptedCredentials, &c.EncryptionKeyVersion, &c.Status, &c.IsEnabled,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no mcp connector %s configured for this tenant", connectorID)
		}
		return nil, err
	}
	return &c, nil
}

// DecryptedAuthHeader decrypts c's sealed credential and formats it as the
// Authorization header value its auth_type expects. "none" connectors
// return an empty header.
func (s DBConnectorStore) DecryptedAuthHeader(ctx context.Context, c *model.McpConnector) (string, error) {
	if c.AuthType == "none" || c.EncryptedCredentials == "" {
		return "", nil
	}
	creds, err := s.Vault.Decrypt(c.EncryptedCredentials)
	if err != nil {
		return "", fmt.Errorf("decrypt connector credentials: %w", err)
	}
	switch c.AuthType {
	case "bearer":
		return "Bearer " + creds["token"], nil
	case "api_key":
		return creds["api_key"], nil
	case "oauth2":
		token, err := s.oauth2Token(ctx, c, creds)
		if err != nil {
			return "", err
		}
		return "Bearer " + token, nil
	default:
		return "", fmt.Errorf("unsupported connector auth_type %q", c.AuthType)
	}
}

// oauthRefreshWindow: a cached access token is refreshed once it is within
// this window of its expiry, so a call started just before expiry never
// travels with a token that dies mid-flight.
const oauthRefreshWindow = 60 * time.Second

// oauth2Token returns the connector's cached access token if it is still
// comfortably valid, otherwise runs a refresh_token grant against the
// connector's token endpoint and re-seals the rotated credential set.
func (s DBConnectorStore) oauth2Token(ctx context.Context, c *model.McpConnector, creds map[string]string) (string, error) {
	if token := creds["access_token"]; token != "" {
		if expiresAt, err := time.Parse(time.RFC3339, creds["expires_at"]); err == nil &&
			time.Until(expiresAt) > oauthRefreshWindow {
			return token, nil
		}
	}

	tokenURL := creds["token_url"]
	refreshToken := creds["refresh_token"]
	if tokenURL == "" || refreshToken == "" {
		return "", fmt.Errorf("oauth2 connector %s has no token_url/refresh_token to refresh with", c.ID)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	if creds["client_id"] != "" {
		form.Set("client_id", creds["client_id"])
		form.Set("client_secret", creds["client_secret"])
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("oauth2 refresh: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := s.Client.PostJSON(req, []byte(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("oauth2 refresh: %w", err)
	}
	if status >= 400 {
		return "", fmt.Errorf("oauth2 refresh: token endpoint returned status %d", status)
	}

	var grant struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return "", fmt.Errorf("oauth2 refresh: unmarshal grant: %w", err)
	}
	if grant.AccessToken == "" {
		return "", fmt.Errorf("oauth2 refresh: token endpoint returned no access_token")
	}

	creds["access_token"] = grant.AccessToken
	if grant.RefreshToken != "" {
		creds["refresh_token"] = grant.RefreshToken
	}
	expiresIn := grant.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	creds["expires_at"] = time.Now().Add(time.Duration(expiresIn) * time.Second).UTC().Format(time.RFC3339)
	creds["expires_in"] = strconv.Itoa(expiresIn)

	sealed, keyVersion, err := s.Vault.Encrypt(creds)
	if err != nil {
		return "", fmt.Errorf("oauth2 refresh: reseal credentials: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, `
		UPDATE mcp_connectors SET encrypted_credentials = $1, encryption_key_version = $2, updated_at = $3
		WHERE tenant_id = $4 AND id = $5`,
		sealed, keyVersion, time.Now(), c.TenantID, c.ID); err != nil {
		return "", fmt.Errorf("oauth2 refresh: persist rotated credentials: %w", err)
	}

	return grant.AccessToken, nil
}
