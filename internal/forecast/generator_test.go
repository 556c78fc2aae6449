package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

var testAnchor = month(2024, 12)

func establishedInput(xyz domain.VolatilityTier) Input {
	return Input{
		RunID:          "run-1",
		Key:            testKey,
		Classification: classification(domain.TierA, xyz, domain.GrowthNormal),
		Anchor:         testAnchor,
		History:        seasonalHistory(month(2022, 1), 36, 100, summerPeak()),
	}
}

func sparseInput() Input {
	return Input{
		RunID:          "run-1",
		Key:            testKey,
		Classification: classification(domain.TierA, domain.TierX, domain.GrowthNormal),
		Anchor:         testAnchor,
		History:        history(month(2024, 9), 300, 100, 110, 90),
	}
}

func TestGenerate_EstablishedSeasonalSKU(t *testing.T) {
	g := NewGenerator(DefaultConfig())

	res, err := g.Generate(establishedInput(domain.TierX))
	require.NoError(t, err)

	assert.Equal(t, domain.MethodSeasonalTrend, res.Method)
	assert.Equal(t, domain.SourceSKUTrend, res.GrowthSource)
	assert.Equal(t, "sku_trend_x_seasonal", res.GrowthTag)
	assert.InDelta(t, 0, res.GrowthRate, 1e-4)
	assert.True(t, res.SeasonalApplied)
	assert.Equal(t, 1.5, res.SafetyMultiplier)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.Equal(t, testAnchor, res.AnchorMonth)

	require.Len(t, res.Points, 12)
	jan, jul := res.Points[0], res.Points[6]
	assert.Equal(t, month(2025, 1), jan.TargetMonth)
	assert.Equal(t, 1, jan.Horizon)
	assert.Equal(t, month(2025, 7), jul.TargetMonth)
	assert.Greater(t, jul.Quantity, jan.Quantity)
	assert.InDelta(t, 50.0, jan.Quantity, 0.01)
	assert.InDelta(t, 200.0, jul.Quantity, 0.01)
	assert.Equal(t, "125", jan.Revenue.StringFixed(0))

	require.NotNil(t, jan.LastYearQty)
	assert.InDelta(t, 50.0, *jan.LastYearQty, 1e-9)
	assert.Equal(t, month(2025, 12), res.Points[11].TargetMonth)
}

func TestGenerate_SparseSKUUsesTestAndLearn(t *testing.T) {
	g := NewGenerator(DefaultConfig())

	res, err := g.Generate(sparseInput())
	require.NoError(t, err)

	assert.Equal(t, domain.MethodTestAndLearn, res.Method)
	assert.True(t, res.LaunchSpike)
	assert.False(t, res.SeasonalApplied)
	assert.Equal(t, domain.SourceFlatDefault, res.GrowthSource)
	assert.Equal(t, "flat_default_x", res.GrowthTag)
	assert.Equal(t, DefaultConfig().SparseSafetyMultiplier, res.SafetyMultiplier)
	assert.LessOrEqual(t, res.Confidence, DefaultConfig().SparseConfidenceCap)
	for _, p := range res.Points {
		assert.InDelta(t, 100.0, p.Quantity, 0.01)
	}

	established, err := g.Generate(establishedInput(domain.TierX))
	require.NoError(t, err)
	assert.Greater(t, established.Confidence, res.Confidence)
}

// growingSummerHistory grows 5% a year with a 1.5 July and a 0.6 January; the other months
// share the rest so the shape averages to 1.
func growingSummerHistory(start time.Time, months int) []domain.DemandObservation {
	shape := domain.FlatFactors()
	for i := range shape {
		shape[i] = 0.99
	}
	shape[time.January-1] = 0.6
	shape[time.July-1] = 1.5

	units := make([]float64, months)
	for i := range units {
		m := domain.AddMonths(start, i).Month()
		units[i] = 100 * math.Pow(1.05, float64(i)/12) * shape[int(m)-1]
	}
	return history(start, units...)
}

func TestGenerate_GrowingSeasonalSKURanksJulyAboveJanuary(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	sparse, err := g.Generate(sparseInput())
	require.NoError(t, err)

	cases := []struct {
		name   string
		anchor time.Time
		jan    int
		jul    int
	}{
		{name: "window from january", anchor: month(2024, 12), jan: 0, jul: 6},
		{name: "window from july", anchor: month(2024, 6), jan: 6, jul: 0},
		{name: "window from october", anchor: month(2024, 9), jan: 3, jul: 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := Input{
				RunID:          "run-1",
				Key:            testKey,
				Classification: classification(domain.TierB, domain.TierY, domain.GrowthNormal),
				Anchor:         tc.anchor,
				History:        growingSummerHistory(domain.AddMonths(tc.anchor, -35), 36),
			}

			res, err := g.Generate(in)
			require.NoError(t, err)

			assert.Equal(t, domain.MethodSeasonalTrend, res.Method)
			assert.True(t, res.SeasonalApplied)
			require.Len(t, res.Points, 12)

			jan, jul := res.Points[tc.jan], res.Points[tc.jul]
			require.Equal(t, time.January, jan.TargetMonth.Month())
			require.Equal(t, time.July, jul.TargetMonth.Month())
			assert.Greater(t, jul.Quantity, jan.Quantity)
			assert.Greater(t, jul.Quantity/jan.Quantity, 2.0)

			assert.Greater(t, res.Confidence, sparse.Confidence)
		})
	}
}

func TestGenerate_SparseSKUBorrowsPeerShape(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	peerSource, err := g.SeasonalProfile(testKey, seasonalHistory(month(2022, 1), 36, 100, summerPeak()), testAnchor)
	require.NoError(t, err)

	in := sparseInput()
	in.PeerProfile = MergePeerProfiles(testKey, []*domain.SeasonalProfile{peerSource})

	res, err := g.Generate(in)
	require.NoError(t, err)

	assert.Equal(t, domain.MethodTestAndLearn, res.Method)
	assert.True(t, res.SeasonalApplied)
	assert.Equal(t, domain.SourcePeerSKU, res.GrowthSource)
	assert.Equal(t, "peer_sku_x_seasonal", res.GrowthTag)
	assert.Greater(t, res.Points[6].Quantity, res.Points[0].Quantity)
}

func TestGenerate_DispatchPriority(t *testing.T) {
	g := NewGenerator(DefaultConfig())

	t.Run("manual override beats sparse", func(t *testing.T) {
		in := sparseInput()
		in.ManualGrowth = ptr(0.1)

		res, err := g.Generate(in)
		require.NoError(t, err)
		assert.Equal(t, domain.MethodManualOverride, res.Method)
		assert.Equal(t, domain.SourceManualOverride, res.GrowthSource)
		assert.InDelta(t, 0.1, res.GrowthRate, 1e-9)
		// Recent level of the four selling months, compounded a full year.
		assert.InDelta(t, 150*1.1, res.Points[11].Quantity, 0.01)
	})

	t.Run("manual override is not capped", func(t *testing.T) {
		in := establishedInput(domain.TierX)
		in.ManualGrowth = ptr(0.9)

		res, err := g.Generate(in)
		require.NoError(t, err)
		assert.InDelta(t, 0.9, res.GrowthRate, 1e-9)
	})

	t.Run("volatile tier uses weighted moving average", func(t *testing.T) {
		res, err := g.Generate(establishedInput(domain.TierZ))
		require.NoError(t, err)
		assert.Equal(t, domain.MethodWeightedMovingAverage, res.Method)
		assert.InDelta(t, 50.0, res.Points[0].Quantity, 0.01)
	})

	t.Run("zero history falls back to category default", func(t *testing.T) {
		in := sparseInput()
		in.History = history(month(2024, 1), flat(12, 0)...)
		in.CategoryLevel = 40

		res, err := g.Generate(in)
		require.NoError(t, err)
		assert.Equal(t, domain.MethodCategoryDefault, res.Method)
		assert.Equal(t, domain.SourceCategoryTrend, res.GrowthSource)
		assert.Equal(t, DefaultConfig().CategoryConfidence, res.Confidence)
		for _, p := range res.Points {
			assert.InDelta(t, 40.0, p.Quantity, 1e-9)
		}
	})
}

func TestGenerate_SingleSellingMonthNeverFails(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	in := sparseInput()
	in.History = history(month(2024, 1), append(flat(11, 0), 40)...)

	res, err := g.Generate(in)
	require.NoError(t, err)

	assert.Equal(t, domain.MethodTestAndLearn, res.Method)
	require.Len(t, res.Points, 12)
	assert.InDelta(t, 40.0, res.Points[0].Quantity, 0.01)
}

func TestGenerate_PlaceholderMonthDoesNotShiftAnchor(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	in := establishedInput(domain.TierX)
	// The current, unclosed month is present as a zero-sales placeholder row.
	in.History = append(in.History, history(month(2025, 1), 0)...)

	latest, ok := domain.LatestRealDataMonth(in.History)
	require.True(t, ok)
	require.Equal(t, testAnchor, latest)
	in.Anchor = latest

	res, err := g.Generate(in)
	require.NoError(t, err)
	assert.Equal(t, month(2025, 1), res.Points[0].TargetMonth)
	assert.InDelta(t, 50.0, res.Points[0].Quantity, 0.01)
}

func TestGenerate_AppliesLearningAdjustments(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	created := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)

	t.Run("growth correction", func(t *testing.T) {
		in := establishedInput(domain.TierX)
		in.Adjustments = []domain.LearningAdjustment{
			{ID: 3, Type: domain.AdjustmentGrowthRate, SKU: testKey.SKU, OriginalValue: 0.1, ProposedValue: 0.05, CreatedAt: created},
			{ID: 4, Type: domain.AdjustmentGrowthRate, SKU: testKey.SKU, OriginalValue: 0.1, ProposedValue: 0.4, Applied: true, CreatedAt: created},
		}

		res, err := g.Generate(in)
		require.NoError(t, err)
		assert.InDelta(t, -0.05, res.GrowthRate, 1e-4)
		assert.Equal(t, []int64{3}, res.AppliedAdjustments)
	})

	t.Run("seasonal factor correction", func(t *testing.T) {
		in := establishedInput(domain.TierX)
		in.Adjustments = []domain.LearningAdjustment{
			{ID: 5, Type: domain.AdjustmentSeasonalFactor, SKU: testKey.SKU, MonthOfYear: 7, OriginalValue: 2.0, ProposedValue: 1.8, CreatedAt: created},
		}

		res, err := g.Generate(in)
		require.NoError(t, err)
		assert.InDelta(t, 180.0, res.Points[6].Quantity, 0.01)
		assert.InDelta(t, 50.0, res.Points[0].Quantity, 0.01)
		assert.Equal(t, []int64{5}, res.AppliedAdjustments)
	})

	t.Run("method switch for the bucket", func(t *testing.T) {
		in := establishedInput(domain.TierX)
		in.Adjustments = []domain.LearningAdjustment{
			{ID: 7, Type: domain.AdjustmentMethodSwitch, Bucket: "AX", Method: domain.MethodHoltLinear, CreatedAt: created},
			{ID: 8, Type: domain.AdjustmentMethodSwitch, Bucket: "CZ", Method: domain.MethodWeightedMovingAverage, CreatedAt: created},
		}

		res, err := g.Generate(in)
		require.NoError(t, err)
		assert.Equal(t, domain.MethodHoltLinear, res.Method)
		assert.InDelta(t, 50.0, res.Points[0].Quantity, 0.01)
		assert.Equal(t, []int64{7}, res.AppliedAdjustments)
	})

	t.Run("category default level", func(t *testing.T) {
		in := sparseInput()
		in.History = nil
		in.CategoryLevel = 40
		in.Adjustments = []domain.LearningAdjustment{
			{ID: 9, Type: domain.AdjustmentCategory, Category: "beverages", OriginalValue: 40, ProposedValue: 30, CreatedAt: created},
		}

		res, err := g.Generate(in)
		require.NoError(t, err)
		assert.InDelta(t, 30.0, res.Points[0].Quantity, 1e-9)
		assert.Equal(t, []int64{9}, res.AppliedAdjustments)
	})
}

func TestGenerate_RejectsMalformedInput(t *testing.T) {
	g := NewGenerator(DefaultConfig())

	in := sparseInput()
	in.Classification.ABC = "Q"
	_, err := g.Generate(in)
	require.ErrorIs(t, err, domain.ErrUnknownClassification)

	in = sparseInput()
	in.Key.Warehouse = ""
	_, err = g.Generate(in)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.HistoryMonths = 6
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Horizon = 0
	require.Error(t, cfg.Validate())
}
