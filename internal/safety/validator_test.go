package safety

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/domain/clinical"
	"github.com/carewatch/go-cds/internal/knowledge"
)

func testStore() *knowledge.MemoryStore {
	store := knowledge.NewMemoryStore()
	store.AddDrug(clinical.DrugInfo{DrugID: "amoxicillin", Name: "Amoxicillin", Class: "penicillin"})
	store.AddDrug(clinical.DrugInfo{DrugID: "warfarin", Name: "Warfarin", Class: "anticoagulant"})
	store.AddDrug(clinical.DrugInfo{DrugID: "aspirin", Name: "Aspirin", Class: "nsaid"})
	store.AddDrug(clinical.DrugInfo{DrugID: "gentamicin", Name: "Gentamicin", Class: "aminoglycoside", RequiresRenalAdjustment: true})
	store.AddInteraction(clinical.InteractionRule{
		DrugA:          "warfarin",
		DrugB:          "aspirin",
		Severity:       clinical.SeverityMajor,
		Description:    "increased bleeding risk",
		Recommendation: "avoid combination or monitor INR closely",
	})
	return store
}

func newTestValidator(t *testing.T, store knowledge.Source) *Validator {
	t.Helper()
	return NewValidator(store, DefaultConfig(), zap.NewNop())
}

func TestValidateAllergyByClass(t *testing.T) {
	store := testStore()
	store.AddPatient("patient-1", clinical.AllergyRecord{
		PatientID: "patient-1",
		Substance: "penicillin",
		Severity:  clinical.SeverityMajor,
	})

	v := newTestValidator(t, store)
	result, err := v.Validate(context.Background(), "patient-1", []clinical.MedicationOrder{
		{DrugID: "amoxicillin", Dose: 500, DoseUnit: "mg"},
	})
	require.NoError(t, err)

	require.Len(t, result.Alerts, 1)
	assert.Equal(t, clinical.AlertAllergy, result.Alerts[0].Type)
	assert.Equal(t, clinical.SeverityMajor, result.Alerts[0].Severity)
	assert.False(t, result.IsSafe)
}

func TestValidateInteractionSymmetric(t *testing.T) {
	store := testStore()
	store.AddPatient("patient-1")
	v := newTestValidator(t, store)

	forward, err := v.Validate(context.Background(), "patient-1", []clinical.MedicationOrder{
		{DrugID: "warfarin", Dose: 5},
		{DrugID: "aspirin", Dose: 81},
	})
	require.NoError(t, err)

	reversed, err := v.Validate(context.Background(), "patient-1", []clinical.MedicationOrder{
		{DrugID: "aspirin", Dose: 81},
		{DrugID: "warfarin", Dose: 5},
	})
	require.NoError(t, err)

	require.Len(t, forward.Alerts, 1)
	require.Len(t, reversed.Alerts, 1)
	assert.Equal(t, clinical.AlertInteraction, forward.Alerts[0].Type)
	assert.Equal(t, forward.Alerts[0].Severity, reversed.Alerts[0].Severity)
	assert.False(t, forward.IsSafe)
	assert.False(t, reversed.IsSafe)
}

func TestValidatePairCheckedOnce(t *testing.T) {
	store := testStore()
	store.AddPatient("patient-1")
	v := newTestValidator(t, store)

	// Three orders, one interacting pair. Exactly one interaction alert.
	result, err := v.Validate(context.Background(), "patient-1", []clinical.MedicationOrder{
		{DrugID: "warfarin", Dose: 5},
		{DrugID: "aspirin", Dose: 81},
		{DrugID: "amoxicillin", Dose: 500},
	})
	require.NoError(t, err)

	var interactions int
	for _, a := range result.Alerts {
		if a.Type == clinical.AlertInteraction {
			interactions++
		}
	}
	assert.Equal(t, 1, interactions)
}

func TestValidateDuplicateDrugNotSelfChecked(t *testing.T) {
	store := testStore()
	store.AddPatient("patient-1")
	v := newTestValidator(t, store)

	result, err := v.Validate(context.Background(), "patient-1", []clinical.MedicationOrder{
		{DrugID: "warfarin", Dose: 5},
		{DrugID: "warfarin", Dose: 2.5},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Alerts)
	assert.True(t, result.IsSafe)
}

func TestValidateRenalAdjustment(t *testing.T) {
	store := testStore()
	store.AddPatient("patient-1")
	store.SetCreatinine("patient-1", 2.1)
	v := newTestValidator(t, store)

	result, err := v.Validate(context.Background(), "patient-1", []clinical.MedicationOrder{
		{DrugID: "gentamicin", Dose: 80},
		{DrugID: "amoxicillin", Dose: 500},
	})
	require.NoError(t, err)

	require.Len(t, result.Alerts, 1)
	assert.Equal(t, clinical.AlertRenalAdjustment, result.Alerts[0].Type)
	assert.Equal(t, clinical.SeverityModerate, result.Alerts[0].Severity)
	// Moderate alone does not make the prescription unsafe.
	assert.True(t, result.IsSafe)
}

func TestValidateMissingCreatinineSkipsRenalCheck(t *testing.T) {
	store := testStore()
	store.AddPatient("patient-1")
	v := newTestValidator(t, store)

	result, err := v.Validate(context.Background(), "patient-1", []clinical.MedicationOrder{
		{DrugID: "gentamicin", Dose: 80},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Alerts)
	assert.True(t, result.IsSafe)
}

func TestValidateUnknownPatient(t *testing.T) {
	v := newTestValidator(t, testStore())

	_, err := v.Validate(context.Background(), "ghost", []clinical.MedicationOrder{
		{DrugID: "aspirin", Dose: 81},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, clinical.ErrDataUnavailable)
}

func TestValidateUnknownDrug(t *testing.T) {
	store := testStore()
	store.AddPatient("patient-1")
	v := newTestValidator(t, store)

	_, err := v.Validate(context.Background(), "patient-1", []clinical.MedicationOrder{
		{DrugID: "not-a-drug", Dose: 1},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, clinical.ErrDataUnavailable)
}

func TestValidateInputErrors(t *testing.T) {
	v := newTestValidator(t, testStore())
	ctx := context.Background()

	cases := []struct {
		name      string
		patientID string
		orders    []clinical.MedicationOrder
	}{
		{"empty patient id", "", []clinical.MedicationOrder{{DrugID: "aspirin"}}},
		{"no orders", "patient-1", nil},
		{"blank drug id", "patient-1", []clinical.MedicationOrder{{DrugID: "  "}}},
		{"negative dose", "patient-1", []clinical.MedicationOrder{{DrugID: "aspirin", Dose: -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(ctx, tc.patientID, tc.orders)
			var verr *clinical.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestValidateDeterministicOrdering(t *testing.T) {
	store := testStore()
	store.AddPatient("patient-1", clinical.AllergyRecord{
		PatientID: "patient-1",
		Substance: "penicillin",
		Severity:  clinical.SeverityMajor,
	})
	store.SetCreatinine("patient-1", 3.0)
	v := newTestValidator(t, store)

	orders := []clinical.MedicationOrder{
		{DrugID: "amoxicillin", Dose: 500},
		{DrugID: "warfarin", Dose: 5},
		{DrugID: "aspirin", Dose: 81},
		{DrugID: "gentamicin", Dose: 80},
	}

	first, err := v.Validate(context.Background(), "patient-1", orders)
	require.NoError(t, err)
	second, err := v.Validate(context.Background(), "patient-1", orders)
	require.NoError(t, err)

	assert.Equal(t, first.Alerts, second.Alerts)

	// Allergy findings precede interactions, which precede renal findings.
	require.Len(t, first.Alerts, 3)
	assert.Equal(t, clinical.AlertAllergy, first.Alerts[0].Type)
	assert.Equal(t, clinical.AlertInteraction, first.Alerts[1].Type)
	assert.Equal(t, clinical.AlertRenalAdjustment, first.Alerts[2].Type)
}
