package mockclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesFixture(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	accounts, err := c.List(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, accounts)
	for _, a := range accounts {
		assert.NotEmpty(t, a.ExternalID)
		assert.NotEmpty(t, a.Name)
	}
}

func TestListReturnsDefensiveCopy(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	first, err := c.List(context.Background())
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := c.List(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", second[0].Name)
}
