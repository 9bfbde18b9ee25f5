package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/model"
)

func TestSaveAndGetProject(t *testing.T) {
	ctx := context.Background()
	db := newTestStorage(t)

	project := &model.Project{
		ID:        "p1",
		Name:      "Torre Norte",
		Address:   "Carrera 7 #100-20",
		City:      "Bogota",
		TaxID:     "901234567-1",
		Budget:    "5000000000",
		Status:    "active",
		Validated: true,
	}
	require.NoError(t, db.SaveProject(ctx, project))

	got, err := db.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Torre Norte", got.Name)
	assert.Equal(t, "Bogota", got.City)
	assert.True(t, got.Validated)

	// Saving again with the same id updates in place.
	project.Name = "Torre Norte Fase 2"
	project.Validated = false
	require.NoError(t, db.SaveProject(ctx, project))

	got, err = db.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Torre Norte Fase 2", got.Name)
	assert.False(t, got.Validated)
}

func TestGetProjectNotFound(t *testing.T) {
	db := newTestStorage(t)

	_, err := db.GetProject(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetValidatedProjects(t *testing.T) {
	ctx := context.Background()
	db := newTestStorage(t)

	require.NoError(t, db.SaveProject(ctx, &model.Project{ID: "p3", Name: "Gamma", Validated: true}))
	require.NoError(t, db.SaveProject(ctx, &model.Project{ID: "p1", Name: "Alpha", Validated: true}))
	require.NoError(t, db.SaveProject(ctx, &model.Project{ID: "p2", Name: "Beta", Validated: false}))

	projects, err := db.GetValidatedProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)

	// Unvalidated projects are never candidates, and the order is stable
	// across calls.
	assert.Equal(t, "p1", projects[0].ID)
	assert.Equal(t, "p3", projects[1].ID)
}
