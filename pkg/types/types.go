package types

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// Reference identifies a container image by repository and mutable tag.
// It is comparable and used as the map key throughout the lookup path.
type Reference struct {
	Repository string // canonical repository, e.g. docker.io/library/ubuntu
	Tag        string
}

// ParseReference normalizes a docker-style image string into a Reference.
// Short names are expanded ("ubuntu" -> "docker.io/library/ubuntu:latest").
// References already carrying a digest are rejected: they are pinned and
// have nothing to resolve.
func ParseReference(s string) (Reference, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return Reference{}, fmt.Errorf("invalid image reference %q: %w", s, err)
	}
	if _, ok := named.(reference.Canonical); ok {
		return Reference{}, fmt.Errorf("image reference %q already carries a digest", s)
	}

	named = reference.TagNameOnly(named)
	tagged, ok := named.(reference.Tagged)
	if !ok {
		return Reference{}, fmt.Errorf("image reference %q has no tag", s)
	}

	return Reference{
		Repository: named.Name(),
		Tag:        tagged.Tag(),
	}, nil
}

// String returns the canonical "<repository>:<tag>" form. This is also the
// key under which a pin is stored.
func (r Reference) String() string {
	return r.Repository + ":" + r.Tag
}

// IsZero reports whether the reference is unset.
func (r Reference) IsZero() bool {
	return r.Repository == "" && r.Tag == ""
}

// Digest is an immutable content identifier for an image, as reported by a
// resolver. MediaType and Size are resolver-supplied side information and do
// not participate in the canonical form.
type Digest struct {
	Algorithm string
	Value     string

	MediaType string
	Size      int64
}

// ParseDigest parses the canonical "<algorithm>:<value>" form. Both halves
// must be non-empty; the split is on the first colon.
func ParseDigest(s string) (Digest, error) {
	algorithm, value, ok := strings.Cut(s, ":")
	if !ok || algorithm == "" || value == "" {
		return Digest{}, fmt.Errorf("malformed digest %q: want <algorithm>:<value>", s)
	}
	return Digest{Algorithm: algorithm, Value: value}, nil
}

// String returns the canonical "<algorithm>:<value>" form used for storage.
func (d Digest) String() string {
	return d.Algorithm + ":" + d.Value
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d.Algorithm == "" && d.Value == ""
}
