package stress

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskengine/internal/domain"
)

func TestPresets(t *testing.T) {
	all := Presets()
	require.Len(t, all, 5)
	assert.Equal(t, "covid_2020", all[0].Name)

	for _, s := range all {
		assert.NotEmpty(t, s.Description)
		assert.Equal(t, 0.0, s.Shocks[ClassCash])
	}
}

func TestPreset_ReturnsCopy(t *testing.T) {
	s, err := Preset("GFC_2008")
	require.NoError(t, err)
	s.Shocks[ClassEquity] = 0

	again, err := Preset("gfc_2008")
	require.NoError(t, err)
	assert.Equal(t, -40.0, again.Shocks[ClassEquity])
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		scenario string
		shocks   map[string]float64
		wantName string
		wantErr  bool
	}{
		{name: "preset", scenario: "flash_crash", wantName: "flash_crash"},
		{name: "unknown preset", scenario: "meteor", wantErr: true},
		{name: "nothing supplied", wantErr: true},
		{name: "ad hoc unnamed", shocks: map[string]float64{"Equity": -12}, wantName: CustomScenarioName},
		{name: "ad hoc named", scenario: "my_case", shocks: map[string]float64{"equity": -12}, wantName: "my_case"},
		{name: "shock below -100", shocks: map[string]float64{"equity": -120}, wantErr: true},
		{name: "non finite shock", shocks: map[string]float64{"equity": math.NaN()}, wantErr: true},
		{name: "blank class", shocks: map[string]float64{" ": -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Resolve(tt.scenario, tt.shocks)
			if tt.wantErr {
				var invalid *domain.InvalidParameterError
				require.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, s.Name)
		})
	}

	s, err := Resolve("", map[string]float64{" Real_Estate ": -5})
	require.NoError(t, err)
	assert.Equal(t, -5.0, s.Shocks["real_estate"])
}
