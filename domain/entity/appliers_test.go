package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicle/domain/events"
	pkgerrors "chronicle/pkg/errors"
)

func noopApplier(b StateBuilder, ev events.DomainEvent) error { return nil }

func TestApplierSetRejectsDuplicateRegistration(t *testing.T) {
	set := NewApplierSet()

	require.NoError(t, set.Register("list.renamed", noopApplier))

	err := set.Register("list.renamed", noopApplier)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConfigurationError(err))
}

func TestApplierSetRejectsNilApplier(t *testing.T) {
	set := NewApplierSet()

	err := set.Register("list.renamed", nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConfigurationError(err))
}

func TestResolveMissingApplierIsConfigurationError(t *testing.T) {
	set := NewApplierSet()

	_, _, err := set.Resolve("list.unknown")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConfigurationError(err))
	assert.False(t, pkgerrors.IsRetryable(err))
}

func TestResolveReturnsEffect(t *testing.T) {
	set := NewApplierSet()
	require.NoError(t, set.RegisterWithEffect("list.archived", noopApplier, ArchiveEffect))

	_, effect, err := set.Resolve("list.archived")
	require.NoError(t, err)
	require.NotNil(t, effect)

	flags := LifecycleFlags{}
	effect(&flags)
	assert.True(t, flags.Archived)
	assert.True(t, flags.Deleted == false)
}
