// Package secrets reads per-user configuration from HashiCorp Vault KV v2.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	vault "github.com/hashicorp/vault/api"

	"github.com/haasonsaas/botgate/pkg/ratelimit"
	"github.com/haasonsaas/botgate/pkg/users"
)

// Options configures the Vault client. Either Token or the AppRole pair must
// be set.
type Options struct {
	Address         string
	Token           string
	AppRoleID       string
	AppRoleSecretID string
	Mount           string
	ConfigPrefix    string
}

// Client wraps the Vault API for user-configuration reads.
type Client struct {
	api    *vault.Client
	mount  string
	prefix string
}

func New(ctx context.Context, opts Options) (*Client, error) {
	cfg := vault.DefaultConfig()
	if opts.Address != "" {
		cfg.Address = opts.Address
	}

	api, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}

	switch {
	case opts.Token != "":
		api.SetToken(opts.Token)
	case opts.AppRoleID != "":
		secret, err := api.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   opts.AppRoleID,
			"secret_id": opts.AppRoleSecretID,
		})
		if err != nil {
			return nil, fmt.Errorf("approle login: %w", err)
		}
		if secret == nil || secret.Auth == nil {
			return nil, errors.New("approle login returned no auth data")
		}
		api.SetToken(secret.Auth.ClientToken)
	default:
		return nil, errors.New("vault token or approle credentials required")
	}

	mount := opts.Mount
	if mount == "" {
		mount = "secret"
	}
	prefix := opts.ConfigPrefix
	if prefix == "" {
		prefix = "configuration/users"
	}

	return &Client{api: api, mount: mount, prefix: prefix}, nil
}

// UserConfig reads and validates the configuration secret for one user.
// Missing secrets map to users.ErrConfigNotFound; anything that fails to
// decode into the fixed shape maps to users.ErrMalformedConfig.
func (c *Client) UserConfig(ctx context.Context, userID string) (users.UserConfig, error) {
	secret, err := c.api.KVv2(c.mount).Get(ctx, path.Join(c.prefix, userID))
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return users.UserConfig{}, fmt.Errorf("user %s: %w", userID, users.ErrConfigNotFound)
		}
		return users.UserConfig{}, fmt.Errorf("read user %s: %w", userID, err)
	}
	return decodeUserConfig(userID, secret.Data)
}

func decodeUserConfig(userID string, data map[string]interface{}) (users.UserConfig, error) {
	var cfg users.UserConfig

	status, ok := data["status"].(string)
	if !ok {
		return cfg, malformed(userID, "missing status")
	}
	if status != users.StatusAllowed && status != users.StatusDenied {
		return cfg, malformed(userID, fmt.Sprintf("unknown status %q", status))
	}
	cfg.Status = status

	roles, err := decodeRoles(data["roles"])
	if err != nil {
		return cfg, malformed(userID, err.Error())
	}
	cfg.Roles = roles

	// requests is stored as a JSON string by the bot tooling but may also be
	// a plain map when written by hand. A secret without it is a broken
	// configuration, not an unlimited user.
	raw, present := data["requests"]
	if !present {
		return cfg, malformed(userID, "missing requests quota")
	}
	quota, err := decodeQuota(raw)
	if err != nil {
		return cfg, malformed(userID, err.Error())
	}
	cfg.Requests = quota

	return cfg, nil
}

func decodeRoles(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			role, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("role entry %v is not a string", item)
			}
			roles = append(roles, role)
		}
		return roles, nil
	case string:
		var roles []string
		if err := json.Unmarshal([]byte(v), &roles); err != nil {
			return nil, fmt.Errorf("roles: %v", err)
		}
		return roles, nil
	default:
		return nil, fmt.Errorf("roles has unexpected type %T", raw)
	}
}

func decodeQuota(raw interface{}) (ratelimit.Config, error) {
	var blob []byte
	switch v := raw.(type) {
	case string:
		blob = []byte(v)
	default:
		var err error
		if blob, err = json.Marshal(v); err != nil {
			return ratelimit.Config{}, fmt.Errorf("requests: %v", err)
		}
	}

	// negative quotas fail the uint decode here, which is exactly the
	// configuration-data error the caller reports
	var quota ratelimit.Config
	if err := json.Unmarshal(blob, &quota); err != nil {
		return ratelimit.Config{}, fmt.Errorf("requests: %v", err)
	}
	return quota, nil
}

func malformed(userID, detail string) error {
	return fmt.Errorf("user %s: %s: %w", userID, detail, users.ErrMalformedConfig)
}

// Health probes the Vault server.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.api.Sys().HealthWithContext(ctx)
	if err != nil {
		return err
	}
	if !resp.Initialized || resp.Sealed {
		return fmt.Errorf("vault not ready: initialized=%v sealed=%v", resp.Initialized, resp.Sealed)
	}
	return nil
}
