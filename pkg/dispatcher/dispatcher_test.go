package dispatcher

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/burrowd/burrow/pkg/errdefs"
	"github.com/burrowd/burrow/pkg/log"
	"github.com/burrowd/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
}

func TestRegisterValidatesPattern(t *testing.T) {
	d := New()

	err := d.Register("bad::pattern", "h", func(ctx context.Context, e *types.Event) (*Response, error) {
		return nil, nil
	})
	assert.True(t, errdefs.IsInvalidPattern(err))

	err = d.Register("completion:*", "nil-handler", nil)
	assert.True(t, errdefs.IsValidation(err))
}

func TestDispatchRegistrationOrder(t *testing.T) {
	d := New()

	var order []string
	add := func(name string) {
		err := d.Register("task:*", name, func(ctx context.Context, e *types.Event) (*Response, error) {
			order = append(order, name)
			return nil, nil
		})
		require.NoError(t, err)
	}
	add("first")
	add("second")
	add("third")

	d.Dispatch(context.Background(), &types.Event{Name: "task:created"})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestDispatchOnlyMatchingHandlers(t *testing.T) {
	d := New()

	var called []string
	register := func(pat, name string) {
		err := d.Register(pat, name, func(ctx context.Context, e *types.Event) (*Response, error) {
			called = append(called, name)
			return nil, nil
		})
		require.NoError(t, err)
	}
	register("completion:*", "completions")
	register("monitor:*", "monitors")
	register("*", "everything")

	d.Dispatch(context.Background(), &types.Event{Name: "completion:result"})

	assert.Equal(t, []string{"completions", "everything"}, called)
}

func TestFirstResponderWins(t *testing.T) {
	d := New()

	require.NoError(t, d.Register("req:*", "silent", func(ctx context.Context, e *types.Event) (*Response, error) {
		return nil, nil
	}))
	require.NoError(t, d.Register("req:*", "owner", func(ctx context.Context, e *types.Event) (*Response, error) {
		return &Response{Data: map[string]interface{}{"owner": "owner"}}, nil
	}))

	var laterRan bool
	require.NoError(t, d.Register("req:*", "later", func(ctx context.Context, e *types.Event) (*Response, error) {
		laterRan = true
		return &Response{Data: map[string]interface{}{"owner": "later"}}, nil
	}))

	resp := d.Dispatch(context.Background(), &types.Event{Name: "req:lookup"})

	require.NotNil(t, resp)
	assert.Equal(t, "owner", resp.Data["owner"])
	// Later handlers still run for side effects; their response is discarded.
	assert.True(t, laterRan)
}

func TestHandlerErrorIsAbsorbed(t *testing.T) {
	d := New()

	require.NoError(t, d.Register("task:*", "broken", func(ctx context.Context, e *types.Event) (*Response, error) {
		return nil, errors.New("boom")
	}))

	var ran bool
	require.NoError(t, d.Register("task:*", "healthy", func(ctx context.Context, e *types.Event) (*Response, error) {
		ran = true
		return &Response{Data: map[string]interface{}{"ok": true}}, nil
	}))

	resp := d.Dispatch(context.Background(), &types.Event{Name: "task:created"})

	assert.True(t, ran)
	require.NotNil(t, resp)
	assert.Equal(t, true, resp.Data["ok"])
}

func TestHandlerPanicIsAbsorbed(t *testing.T) {
	d := New()

	require.NoError(t, d.Register("task:*", "panics", func(ctx context.Context, e *types.Event) (*Response, error) {
		panic("unexpected")
	}))

	var ran bool
	require.NoError(t, d.Register("task:*", "healthy", func(ctx context.Context, e *types.Event) (*Response, error) {
		ran = true
		return nil, nil
	}))

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), &types.Event{Name: "task:created"})
	})
	assert.True(t, ran)
}

func TestDispatchNoMatch(t *testing.T) {
	d := New()

	require.NoError(t, d.Register("completion:*", "h", func(ctx context.Context, e *types.Event) (*Response, error) {
		return &Response{}, nil
	}))

	resp := d.Dispatch(context.Background(), &types.Event{Name: "monitor:subscribe"})
	assert.Nil(t, resp)
}
