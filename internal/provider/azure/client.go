package azure

import (
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/config"
	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/provider"
)

// blobEndpoint returns the configured endpoint or the public one for the account.
func blobEndpoint(c config.AzureConfig) string {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", c.Account)
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return endpoint
}

// authMode names the credential newClient picks.
// Priority: 1) SAS  2) Service Principal  3) DefaultAzureCredential.
func authMode(c config.AzureConfig) string {
	switch {
	case strings.TrimSpace(c.SASToken) != "":
		return "sas"
	case c.ClientID != "" && c.ClientSecret != "" && c.TenantID != "":
		return "service_principal"
	default:
		return "default_credential"
	}
}

func newClient(c config.AzureConfig) (*azblob.Client, error) {
	endpoint := blobEndpoint(c)
	switch authMode(c) {
	case "sas":
		sas := strings.TrimPrefix(strings.TrimSpace(c.SASToken), "?")
		return azblob.NewClientWithNoCredential(endpoint+"?"+sas, nil)
	case "service_principal":
		cred, err := azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
		if err != nil {
			return nil, err
		}
		return azblob.NewClient(endpoint, cred, nil)
	default:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, err
		}
		return azblob.NewClient(endpoint, cred, nil)
	}
}

func init() {
	provider.Register("azure", func(cfg any) (provider.Provider, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("azure: invalid config type")
		}
		client, err := newClient(c.Azure)
		if err != nil {
			return nil, err
		}
		return &AzureProvider{
			client:    client,
			container: c.Azure.Container,
			auth:      authMode(c.Azure),
			ro:        c.RetryOptions(),
		}, nil
	})
}
