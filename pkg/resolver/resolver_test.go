package resolver

import (
	"fmt"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
)

func TestIsBackpressure(t *testing.T) {
	assert.True(t, IsBackpressure(ErrBackpressure))
	assert.True(t, IsBackpressure(fmt.Errorf("registry throttled ubuntu:latest: %w", ErrBackpressure)))
	assert.False(t, IsBackpressure(fmt.Errorf("manifest unknown")))
	assert.False(t, IsBackpressure(nil))
}

func TestFromDescriptor(t *testing.T) {
	desc := ocispec.Descriptor{
		MediaType: "application/vnd.oci.image.index.v1+json",
		Digest:    digest.Digest("sha256:45b23dee08af5e43a7fea6c4cf9c25cc"),
		Size:      1201,
	}

	d := fromDescriptor(desc)
	assert.Equal(t, "sha256", d.Algorithm)
	assert.Equal(t, "45b23dee08af5e43a7fea6c4cf9c25cc", d.Value)
	assert.Equal(t, "sha256:45b23dee08af5e43a7fea6c4cf9c25cc", d.String())
	assert.Equal(t, "application/vnd.oci.image.index.v1+json", d.MediaType)
	assert.Equal(t, int64(1201), d.Size)
}
