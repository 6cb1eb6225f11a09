package panel_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/aristath/quantcore/internal/database"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/quanterr"
	testutil "github.com/aristath/quantcore/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLoader_SelectsRangeAndFields(t *testing.T) {
	u := testutil.NewUniverse("core", []string{"A", "B", "C"}, []string{"tech", "energy"})
	full := testutil.FlatPanel(u, 10, 50)

	loader := panel.NewMemoryLoader()
	require.NoError(t, loader.Put(u, full))

	p, err := loader.Load(context.Background(), panel.Request{
		UniverseID: "core",
		Fields:     []string{panel.FieldClose},
		From:       full.Dates[2],
		To:         full.Dates[5],
	})
	require.NoError(t, err)
	assert.Len(t, p.Dates, 4)
	assert.True(t, p.Has(panel.FieldClose))
	assert.False(t, p.Has(panel.FieldVolume))

	_, err = loader.Load(context.Background(), panel.Request{UniverseID: "missing"})
	assert.ErrorIs(t, err, quanterr.ErrConfiguration)
}

func TestSQLiteLoader_RoundTrip(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, database.NameMarket)
	defer cleanup()

	ctx := context.Background()
	loader := panel.NewSQLiteLoader(db.Conn(), zerolog.Nop())

	u := testutil.NewUniverse("core", []string{"B", "A"}, []string{"tech"})
	src := testutil.TrendingPanel(u, 6, []float64{0.001, -0.002})
	src.Fields[panel.FieldClose][1][3] = math.NaN()

	require.NoError(t, loader.SaveUniverse(ctx, u))
	require.NoError(t, loader.SavePanel(ctx, src))

	gotU, err := loader.Universe(ctx, "core")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, gotU.IDs())

	p, err := loader.Load(ctx, panel.Request{UniverseID: "core", Fields: []string{panel.FieldClose}})
	require.NoError(t, err)
	require.NoError(t, p.Validate())
	require.NoError(t, p.Align(gotU))
	assert.Len(t, p.Dates, 6)
	assert.InDelta(t, src.Fields[panel.FieldClose][0][2], p.Series(panel.FieldClose, 0)[2], 1e-9)
	assert.True(t, math.IsNaN(p.Series(panel.FieldClose, 1)[3]))
	for _, d := range p.Dates {
		assert.Equal(t, time.UTC, d.Location())
	}
}
