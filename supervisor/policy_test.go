package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutPolicy(t *testing.T) {
	t.Run("Grace", func(t *testing.T) {
		p := TimeoutPolicy{Soft: 30 * time.Second, Hard: 35 * time.Second}
		assert.Equal(t, 5*time.Second, p.Grace())
	})

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, TimeoutPolicy{Soft: time.Second, Hard: 2 * time.Second}.Validate())
		require.Error(t, TimeoutPolicy{Soft: 0, Hard: time.Second}.Validate())
		require.Error(t, TimeoutPolicy{Soft: -time.Second, Hard: time.Second}.Validate())
		require.Error(t, TimeoutPolicy{Soft: time.Second, Hard: time.Second}.Validate())
		require.Error(t, TimeoutPolicy{Soft: 2 * time.Second, Hard: time.Second}.Validate())
	})

	t.Run("SoftOverridePreservesGrace", func(t *testing.T) {
		p := TimeoutPolicy{Soft: 30 * time.Second, Hard: 35 * time.Second}
		o := p.withSoftOverride(90 * time.Second)
		assert.Equal(t, 90*time.Second, o.Soft)
		assert.Equal(t, 95*time.Second, o.Hard)
		assert.Equal(t, p.Grace(), o.Grace())
	})
}
