// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncAdapter(t *testing.T) {
	called := false
	adapter := FuncAdapter[int, string](func(ctx context.Context, input int) (string, error) {
		called = true
		return "result", nil
	})

	output, err := adapter.Call(context.Background(), 42)

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "result", output)
}

// ConstFunc ignores its input and yields the value.
func TestConstFunc(t *testing.T) {
	target := Target{Host: "127.0.0.1", Port: 4567}
	output, err := ConstFunc(target).Call(context.Background(), Unit{})
	require.NoError(t, err)
	assert.Equal(t, target, output)
}

func TestCompose2(t *testing.T) {
	t.Run("success path", func(t *testing.T) {
		op1 := FuncAdapter[int, string](func(ctx context.Context, n int) (string, error) {
			return "hello", nil
		})
		op2 := FuncAdapter[string, int](func(ctx context.Context, s string) (int, error) {
			return len(s), nil
		})

		result, err := Compose2[int, string, int](op1, op2).Call(context.Background(), 42)

		require.NoError(t, err)
		assert.Equal(t, 5, result)
	})

	t.Run("first operation fails", func(t *testing.T) {
		wantErr := errors.New("op1 failed")
		op1 := FuncAdapter[int, string](func(ctx context.Context, n int) (string, error) {
			return "", wantErr
		})
		op2 := FuncAdapter[string, int](func(ctx context.Context, s string) (int, error) {
			t.Fatal("op2 should not be called")
			return 0, nil
		})

		_, err := Compose2[int, string, int](op1, op2).Call(context.Background(), 42)

		require.ErrorIs(t, err, wantErr)
	})

	t.Run("second operation fails", func(t *testing.T) {
		wantErr := errors.New("op2 failed")
		op1 := FuncAdapter[int, string](func(ctx context.Context, n int) (string, error) {
			return "hello", nil
		})
		op2 := FuncAdapter[string, int](func(ctx context.Context, s string) (int, error) {
			return 0, wantErr
		})

		_, err := Compose2[int, string, int](op1, op2).Call(context.Background(), 42)

		require.ErrorIs(t, err, wantErr)
	})
}

// The longer compositions apply the stages in order.
func TestComposeN(t *testing.T) {
	add := func(k int) Func[int, int] {
		return FuncAdapter[int, int](func(ctx context.Context, n int) (int, error) {
			return n*10 + k, nil
		})
	}
	ctx := context.Background()

	got, err := Compose3(add(1), add(2), add(3)).Call(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 123, got)

	got, err = Compose4(add(1), add(2), add(3), add(4)).Call(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1234, got)

	got, err = Compose5(add(1), add(2), add(3), add(4), add(5)).Call(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 12345, got)

	got, err = Compose6(add(1), add(2), add(3), add(4), add(5), add(6)).Call(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 123456, got)
}
