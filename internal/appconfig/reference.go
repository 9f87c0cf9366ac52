package appconfig

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// SecretRef returns the secret reference carried by s, if any.
//
// Two forms are recognised:
//
//   - a setting with KeyVaultRefContentType and a {"uri": "..."} value
//     (App Configuration Key Vault references);
//   - an app-setting style value "@Microsoft.KeyVault(SecretUri=...)" or
//     "@Microsoft.KeyVault(VaultName=v;SecretName=n[;SecretVersion=x])",
//     which is how references appear in environment and file settings.
//
// ok=false means s holds a plain value.
func SecretRef(s Setting) (ref string, ok bool, err error) {
	if s.IsSecretRef() {
		var doc struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal([]byte(s.Value), &doc); err != nil {
			return "", true, fmt.Errorf("%w: key %q: %v", ErrBadReference, s.Key, err)
		}
		ref = strings.TrimSpace(doc.URI)
		if err := checkRef(ref); err != nil {
			return "", true, fmt.Errorf("key %q: %w", s.Key, err)
		}
		return ref, true, nil
	}

	v := strings.TrimSpace(s.Value)
	const prefix = "@Microsoft.KeyVault("
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return "", false, nil
	}
	if !strings.HasSuffix(v, ")") {
		return "", true, fmt.Errorf("%w: key %q: unterminated @Microsoft.KeyVault(...)", ErrBadReference, s.Key)
	}
	ref, err = parseAppSettingRef(v[len(prefix) : len(v)-1])
	if err != nil {
		return "", true, fmt.Errorf("key %q: %w", s.Key, err)
	}
	return ref, true, nil
}

func parseAppSettingRef(body string) (string, error) {
	params := map[string]string{}
	for _, part := range strings.Split(body, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return "", fmt.Errorf("%w: malformed parameter %q", ErrBadReference, part)
		}
		params[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	if uri := params["secreturi"]; uri != "" {
		if err := checkRef(uri); err != nil {
			return "", err
		}
		return uri, nil
	}
	vault, name := params["vaultname"], params["secretname"]
	if vault == "" || name == "" {
		return "", fmt.Errorf("%w: need SecretUri or VaultName and SecretName", ErrBadReference)
	}
	ref := "https://" + vault + ".vault.azure.net/secrets/" + url.PathEscape(name)
	if ver := params["secretversion"]; ver != "" {
		ref += "/" + url.PathEscape(ver)
	}
	return ref, nil
}

func checkRef(ref string) error {
	scheme, rest, ok := strings.Cut(ref, "://")
	if !ok || scheme == "" || strings.Trim(rest, "/") == "" {
		return fmt.Errorf("%w: %q", ErrBadReference, ref)
	}
	return nil
}

// refScheme returns the lower-cased scheme of a reference checked by checkRef.
func refScheme(ref string) string {
	scheme, _, _ := strings.Cut(ref, "://")
	return strings.ToLower(scheme)
}

// keyVaultSecretPath splits a Key Vault secret URI into the vault URL, secret
// name and optional version.
func keyVaultSecretPath(ref string) (vaultURL, name, version string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: %v", ErrBadReference, err)
	}
	if !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
		return "", "", "", fmt.Errorf("%w: key vault uri must be https: %q", ErrBadReference, ref)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 || !strings.EqualFold(parts[0], "secrets") || parts[1] == "" {
		return "", "", "", fmt.Errorf("%w: expected /secrets/<name>[/<version>]: %q", ErrBadReference, ref)
	}
	if len(parts) == 3 {
		version = parts[2]
	}
	return "https://" + u.Host, parts[1], version, nil
}
