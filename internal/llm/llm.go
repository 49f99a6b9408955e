// Package llm provides text-generation providers for insight enrichment.
package llm

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

// Fallback tries each provider in order until one is configured and
// returns a response.
type Fallback struct {
	providers []Provider
}

// NewFallback creates a provider chain.
func NewFallback(providers ...Provider) *Fallback {
	return &Fallback{providers: providers}
}

// IsConfigured reports whether any provider in the chain is usable.
func (f *Fallback) IsConfigured() bool {
	for _, p := range f.providers {
		if p.IsConfigured() {
			return true
		}
	}
	return false
}

// Generate delegates to the first configured provider, falling through to
// the next on error.
func (f *Fallback) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var lastErr error
	for _, p := range f.providers {
		if !p.IsConfigured() {
			continue
		}
		text, err := p.Generate(ctx, prompt, maxTokens)
		if err == nil {
			return text, nil
		}
		logrus.Warnf("LLM provider failed, trying next: %v", err)
		lastErr = err
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("no LLM provider configured")
}
