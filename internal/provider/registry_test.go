package provider

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type stubProvider struct{ name string }

func (s stubProvider) Put(context.Context, string, []byte, string) error { return nil }
func (s stubProvider) Name() string                                      { return s.name }

func TestRegistry_NewByName(t *testing.T) {
	Register("stub", func(cfg any) (Provider, error) {
		name, ok := cfg.(string)
		if !ok {
			return nil, errors.New("stub: invalid config type")
		}
		return stubProvider{name: name}, nil
	})

	p, err := New("stub", "configured")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if p.Name() != "configured" {
		t.Fatalf("factory did not receive config, got %q", p.Name())
	}
	if _, err := New("stub", 42); err == nil {
		t.Fatalf("expected factory error for bad config")
	}
	if !slices.Contains(Names(), "stub") {
		t.Fatalf("stub missing from %v", Names())
	}
}

func TestRegistry_Unknown(t *testing.T) {
	if _, err := New("does-not-exist", nil); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
