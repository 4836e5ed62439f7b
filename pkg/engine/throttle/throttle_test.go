package throttle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RobinCK/flowmesh/pkg/engine/throttle"
)

func TestTokenBucketAllowsUpToBurst(t *testing.T) {
	b := throttle.New(1, 2)
	ctx := context.Background()
	assert.True(t, b.Allow(ctx, "k"))
	assert.True(t, b.Allow(ctx, "k"))
	assert.False(t, b.Allow(ctx, "k"))
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	b := throttle.New(1, 1)
	ctx := context.Background()
	assert.True(t, b.Allow(ctx, "a"))
	assert.False(t, b.Allow(ctx, "a"))
	assert.True(t, b.Allow(ctx, "b"))
}
