//go:build !protogen

package catalog

import "context"

type ExperienceInfo struct {
	ID         string
	VendorID   string
	Title      string
	Timezone   string
	PriceCents int64
	Currency   string
}

type Provider interface {
	GetExperience(ctx context.Context, experienceID string) (ExperienceInfo, error)
}

// NewProvider is a no-op unless the repo is built with protogen and generated
// catalog stubs. Callers fall back to the shared experiences table when the
// provider is nil.
func NewProvider(_ string) (Provider, error) {
	return nil, nil
}
