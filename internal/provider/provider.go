package provider

import "context"

// Provider defines the contract for artifact stores used by the acquirer.
// Keys are slash-separated so implementations can map them to paths or blob names.
type Provider interface {
	// Put stores data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Name returns the provider identifier (e.g. "local", "azure").
	Name() string
}
