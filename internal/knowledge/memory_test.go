package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

func TestInteractionLookupSymmetric(t *testing.T) {
	store := NewMemoryStore()
	store.AddInteraction(clinical.InteractionRule{
		DrugA:    "Warfarin",
		DrugB:    "aspirin",
		Severity: clinical.SeverityMajor,
	})
	ctx := context.Background()

	forward, err := store.Interaction(ctx, "warfarin", "ASPIRIN")
	require.NoError(t, err)
	require.NotNil(t, forward)

	reversed, err := store.Interaction(ctx, "aspirin", "warfarin")
	require.NoError(t, err)
	require.NotNil(t, reversed)
	assert.Equal(t, forward.Severity, reversed.Severity)

	none, err := store.Interaction(ctx, "warfarin", "amoxicillin")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAllergiesRequireRegisteredPatient(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Allergies(ctx, "ghost")
	assert.ErrorIs(t, err, clinical.ErrDataUnavailable)

	// A registered patient with no allergies is an empty set, not an error.
	store.AddPatient("patient-1")
	records, err := store.Allergies(ctx, "patient-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLatestCreatinine(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := store.LatestCreatinine(ctx, "patient-1")
	require.NoError(t, err)
	assert.False(t, ok)

	store.SetCreatinine("patient-1", 1.8)
	value, ok, err := store.LatestCreatinine(ctx, "patient-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.8, value)
}
