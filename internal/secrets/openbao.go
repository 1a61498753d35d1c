// Package secrets loads credentials (PayPal client secrets, SMTP and database
// passwords) from an OpenBao/Vault KV v2 path into the process environment
// before configuration is read.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

var ErrSecretNotFound = errors.New("openbao secret path not found")

// AllowedPrefixes limits which keys a secret may export. Anything else in
// the KV entry is ignored.
var AllowedPrefixes = []string{"PAYPAL_", "SMTP_", "CATALOG_DB_", "REDIS_"}

type Config struct {
	Addr       string
	Token      string
	Mount      string
	SecretPath string
	Namespace  string
}

func (c Config) Enabled() bool {
	return c.Addr != "" && c.Token != "" && c.SecretPath != ""
}

func ConfigFromEnv() Config {
	mount := strings.Trim(strings.TrimSpace(os.Getenv("OPENBAO_MOUNT")), "/")
	if mount == "" {
		mount = "secret"
	}
	return Config{
		Addr:       strings.TrimRight(strings.TrimSpace(os.Getenv("OPENBAO_ADDR")), "/"),
		Token:      os.Getenv("OPENBAO_TOKEN"),
		Mount:      mount,
		SecretPath: strings.Trim(strings.TrimSpace(os.Getenv("OPENBAO_SECRET_PATH")), "/"),
		Namespace:  strings.TrimSpace(os.Getenv("OPENBAO_NAMESPACE")),
	}
}

// Bootstrap exports allowed keys from the configured secret via setenv and
// returns the names it set. It is a no-op when OpenBao is not configured.
func Bootstrap(ctx context.Context, cfg Config, setenv func(k, v string) error) ([]string, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	values, err := read(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var set []string
	for k, v := range values {
		if !allowed(k) {
			continue
		}
		if err := setenv(k, v); err != nil {
			return set, fmt.Errorf("export %s: %w", k, err)
		}
		set = append(set, k)
	}
	return set, nil
}

func allowed(key string) bool {
	for _, p := range AllowedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func read(ctx context.Context, cfg Config) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/%s/data/%s", cfg.Addr, cfg.Mount, cfg.SecretPath), nil)
	if err != nil {
		return nil, fmt.Errorf("create OpenBao request: %w", err)
	}
	req.Header.Set("X-Vault-Token", cfg.Token)
	if cfg.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", cfg.Namespace)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call OpenBao: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrSecretNotFound
	default:
		return nil, fmt.Errorf("openbao request failed: status=%d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode OpenBao response: %w", err)
	}

	out := make(map[string]string, len(payload.Data.Data))
	for k, v := range payload.Data.Data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}
