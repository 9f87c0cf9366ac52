package appconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azappconfig"
)

type settingGetter interface {
	GetSetting(ctx context.Context, key string, options *azappconfig.GetSettingOptions) (azappconfig.GetSettingResponse, error)
}

// AzureSource reads settings from an Azure App Configuration store.
type AzureSource struct {
	client settingGetter
	label  string
}

// NewAzureSource connects to the store at endpoint. label selects a labelled
// value; empty means the unlabelled one.
func NewAzureSource(endpoint string, cred azcore.TokenCredential, label string) (*AzureSource, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}
	c, err := azappconfig.NewClient(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("app configuration client: %w", err)
	}
	return &AzureSource{client: c, label: label}, nil
}

func (s *AzureSource) Name() string { return "azure" }

func (s *AzureSource) Setting(ctx context.Context, key string) (Setting, bool, error) {
	var opts *azappconfig.GetSettingOptions
	if s.label != "" {
		label := s.label
		opts = &azappconfig.GetSettingOptions{Label: &label}
	}
	resp, err := s.client.GetSetting(ctx, key, opts)
	if err != nil {
		if isAzureNotFound(err) {
			return Setting{}, false, nil
		}
		return Setting{}, false, fmt.Errorf("app configuration get %q: %w", key, err)
	}
	return Setting{
		Key:         key,
		Value:       deref(resp.Value),
		Label:       deref(resp.Label),
		ContentType: deref(resp.ContentType),
	}, true, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
