package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstreamsFromEnv(t *testing.T) {
	t.Run("reads the shared market key", func(t *testing.T) {
		t.Setenv("MARKET_URL", "http://market:8081")
		t.Setenv("AUTHORITY_URL", "http://authority:8085")

		got, err := UpstreamsFromEnv()
		require.NoError(t, err)
		assert.Equal(t, Upstreams{Market: "http://market:8081", Authority: "http://authority:8085"}, got)
	})

	t.Run("market url is required", func(t *testing.T) {
		t.Setenv("MARKET_URL", "")
		t.Setenv("MARKET_SERVICE_URL", "http://market:8081")
		t.Setenv("AUTHORITY_URL", "http://authority:8085")

		_, err := UpstreamsFromEnv()
		assert.ErrorContains(t, err, "MARKET_URL")
	})
}
