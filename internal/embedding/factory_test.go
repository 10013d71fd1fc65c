package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MockWithCache(t *testing.T) {
	e, err := New(Options{Provider: ProviderMock, Dimensions: 8, CacheSize: 4})
	require.NoError(t, err)
	_, cached := e.(*CachedEmbedder)
	assert.True(t, cached)
	assert.Equal(t, 8, e.Dimensions())
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Options{Provider: "word2vec"})
	assert.Error(t, err)
}
