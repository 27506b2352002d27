package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"

	"github.com/cuemby/tagpin/pkg/types"
)

// RegistryResolver resolves digests with a manifest HEAD request directly
// against the image registry, authenticating through the ambient docker
// keychain.
type RegistryResolver struct {
	keychain authn.Keychain
}

// NewRegistryResolver creates a resolver using the default keychain
// (docker config, credential helpers).
func NewRegistryResolver() *RegistryResolver {
	return &RegistryResolver{keychain: authn.DefaultKeychain}
}

// Resolve fetches the manifest descriptor for the tag and returns its
// digest. HTTP 429 from the registry maps to ErrBackpressure.
func (r *RegistryResolver) Resolve(ctx context.Context, ref types.Reference) (types.Digest, error) {
	named, err := name.ParseReference(ref.String())
	if err != nil {
		return types.Digest{}, fmt.Errorf("failed to parse reference %s: %w", ref, err)
	}

	desc, err := remote.Head(named,
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(r.keychain),
	)
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) && terr.StatusCode == http.StatusTooManyRequests {
			return types.Digest{}, fmt.Errorf("registry throttled %s: %w", ref, ErrBackpressure)
		}
		return types.Digest{}, fmt.Errorf("failed to resolve %s: %w", ref, err)
	}

	return types.Digest{
		Algorithm: desc.Digest.Algorithm,
		Value:     desc.Digest.Hex,
		MediaType: string(desc.MediaType),
		Size:      desc.Size,
	}, nil
}
