package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatefs/gatefs/pkg/fault"
)

func noopHandler(taskType string) *Handler {
	return &Handler{
		Type: taskType,
		Execute: func(context.Context, *Job, any, RunContext) (Result, error) {
			return Result{}, nil
		},
	}
}

func TestRegistryRegister(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(noopHandler("copy")))

	err := registry.Register(noopHandler("copy"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindConflict))

	err = registry.Register(&Handler{Type: "broken"})
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	err = registry.Register(&Handler{})
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestRegistryGetAndTypes(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(noopHandler("zeta")))
	require.NoError(t, registry.Register(noopHandler("alpha")))

	h, err := registry.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", h.Type)

	_, err = registry.Get("ghost")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))

	assert.Equal(t, []string{"alpha", "zeta"}, registry.Types())
}
