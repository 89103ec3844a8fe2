package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureRequestID(t *testing.T) {
	t.Run("keeps_existing_id", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-1")
		out, id := EnsureRequestID(ctx)
		assert.Equal(t, "req-1", id)
		assert.Equal(t, "req-1", GetRequestID(out))
	})

	t.Run("generates_when_missing", func(t *testing.T) {
		out, id := EnsureRequestID(context.Background())
		assert.NotEmpty(t, id)
		assert.Equal(t, id, GetRequestID(out))
	})
}
