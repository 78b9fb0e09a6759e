// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FuncAdapter forwards the context and the input to the wrapped function.
func TestFuncAdapter(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "value")

	adapter := FuncAdapter[int, string](func(ctx context.Context, input int) (string, error) {
		assert.Equal(t, "value", ctx.Value(ctxKey{}))
		assert.Equal(t, 42, input)
		return "result", nil
	})

	output, err := adapter.Call(ctx, 42)

	require.NoError(t, err)
	assert.Equal(t, "result", output)
}

// Unit values are all equal.
func TestUnit(t *testing.T) {
	var u Unit
	assert.Equal(t, Unit{}, u)
}
