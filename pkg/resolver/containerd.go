package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/containerd/remotes"
	"github.com/containerd/containerd/remotes/docker"
	remoteerrors "github.com/containerd/containerd/remotes/errors"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cuemby/tagpin/pkg/types"
)

// ContainerdResolver resolves digests through containerd's registry
// resolver. It uses containerd's default registry hosts; no hosts
// directory, mirror or credential configuration is loaded.
type ContainerdResolver struct {
	resolver remotes.Resolver
}

// NewContainerdResolver creates a resolver with default registry hosts.
func NewContainerdResolver() *ContainerdResolver {
	return &ContainerdResolver{
		resolver: docker.NewResolver(docker.ResolverOptions{}),
	}
}

// Resolve resolves the tag to its OCI descriptor and returns the digest.
// HTTP 429 from the registry maps to ErrBackpressure.
func (r *ContainerdResolver) Resolve(ctx context.Context, ref types.Reference) (types.Digest, error) {
	_, desc, err := r.resolver.Resolve(ctx, ref.String())
	if err != nil {
		var unexpected remoteerrors.ErrUnexpectedStatus
		if errors.As(err, &unexpected) && unexpected.StatusCode == http.StatusTooManyRequests {
			return types.Digest{}, fmt.Errorf("registry throttled %s: %w", ref, ErrBackpressure)
		}
		return types.Digest{}, fmt.Errorf("failed to resolve %s: %w", ref, err)
	}

	return fromDescriptor(desc), nil
}

// fromDescriptor converts an OCI descriptor into the coordinator's digest
// form, splitting the canonical digest into its algorithm and value.
func fromDescriptor(desc ocispec.Descriptor) types.Digest {
	dgst := digest.Digest(desc.Digest)
	return types.Digest{
		Algorithm: dgst.Algorithm().String(),
		Value:     dgst.Encoded(),
		MediaType: desc.MediaType,
		Size:      desc.Size,
	}
}
