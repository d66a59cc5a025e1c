package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viant/scy"
	_ "github.com/viant/scy/kms/blowfish"
)

// SecretRef locates an encrypted watcher credential.
type SecretRef struct {
	URL string `json:"url" yaml:"url"`
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
}

// Resolver loads credentials.
type Resolver interface {
	Resolve(ctx context.Context, ref *SecretRef) (string, error)
}

// ScyResolver loads secrets with viant/scy.
type ScyResolver struct {
	service *scy.Service
}

// Resolve returns the plain text secret.
func (r *ScyResolver) Resolve(ctx context.Context, ref *SecretRef) (string, error) {
	if ref == nil || strings.TrimSpace(ref.URL) == "" {
		return "", errors.New("secret url is empty")
	}
	resource := scy.NewResource(nil, ref.URL, ref.Key)
	secret, err := r.service.Load(ctx, resource)
	if err != nil {
		return "", fmt.Errorf("failed to load secret from %s: %w", ref.URL, err)
	}
	value := secret.String()
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("secret %s is empty", ref.URL)
	}
	return value, nil
}

// NewScyResolver creates a resolver backed by scy.
func NewScyResolver() *ScyResolver {
	return &ScyResolver{service: scy.New()}
}
