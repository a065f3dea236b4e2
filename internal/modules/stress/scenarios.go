package stress

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aristath/riskengine/internal/domain"
)

// Asset classes understood by the preset scenarios
const (
	ClassEquity       = "equity"
	ClassBond         = "bond"
	ClassCommodity    = "commodity"
	ClassGold         = "gold"
	ClassCrypto       = "crypto"
	ClassRealEstate   = "real_estate"
	ClassCash         = "cash"
	ClassUnclassified = "unclassified"
)

// CustomScenarioName is used for ad hoc scenarios submitted without a name
const CustomScenarioName = "custom"

// presets are historical-crisis shock tables in percent (-40 = a 40% fall).
// Classes missing from a table were not meaningfully traded in that episode.
var presets = map[string]domain.StressScenario{
	"gfc_2008": {
		Name:        "gfc_2008",
		Description: "Global financial crisis, Sep 2008 to Mar 2009",
		Shocks: map[string]float64{
			ClassEquity: -40, ClassBond: 5, ClassCommodity: -35, ClassGold: 5,
			ClassRealEstate: -35, ClassCash: 0,
		},
	},
	"covid_2020": {
		Name:        "covid_2020",
		Description: "COVID-19 crash, Feb to Mar 2020",
		Shocks: map[string]float64{
			ClassEquity: -34, ClassBond: 3, ClassCommodity: -30, ClassGold: -3,
			ClassCrypto: -50, ClassRealEstate: -25, ClassCash: 0,
		},
	},
	"dotcom_2000": {
		Name:        "dotcom_2000",
		Description: "Dot-com bust, Mar 2000 to Oct 2002",
		Shocks: map[string]float64{
			ClassEquity: -45, ClassBond: 10, ClassCommodity: -10, ClassGold: 5,
			ClassRealEstate: 5, ClassCash: 0,
		},
	},
	"rate_shock_2022": {
		Name:        "rate_shock_2022",
		Description: "Inflation and rate-hike drawdown of 2022",
		Shocks: map[string]float64{
			ClassEquity: -25, ClassBond: -17, ClassCommodity: 15, ClassGold: -2,
			ClassCrypto: -65, ClassRealEstate: -28, ClassCash: 0,
		},
	},
	"flash_crash": {
		Name:        "flash_crash",
		Description: "Intraday liquidity crash (May 2010 style)",
		Shocks: map[string]float64{
			ClassEquity: -10, ClassBond: 1, ClassCommodity: -5, ClassGold: 1,
			ClassCrypto: -15, ClassRealEstate: -3, ClassCash: 0,
		},
	},
}

// Presets returns every preset scenario ordered by name
func Presets() []domain.StressScenario {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]domain.StressScenario, 0, len(names))
	for _, name := range names {
		out = append(out, clone(presets[name]))
	}
	return out
}

// Preset returns a named preset scenario
func Preset(name string) (domain.StressScenario, error) {
	s, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return domain.StressScenario{}, &domain.InvalidParameterError{
			Field:   "scenario",
			Message: fmt.Sprintf("unknown scenario %q", name),
		}
	}
	return clone(s), nil
}

// Resolve picks a preset by name, or builds an ad hoc scenario when shocks are supplied
func Resolve(name string, shocks map[string]float64) (domain.StressScenario, error) {
	if len(shocks) == 0 {
		if strings.TrimSpace(name) == "" {
			return domain.StressScenario{}, &domain.InvalidParameterError{
				Field:   "scenario",
				Message: "either a scenario name or a shock table is required",
			}
		}
		return Preset(name)
	}

	if strings.TrimSpace(name) == "" {
		name = CustomScenarioName
	}
	scenario := domain.StressScenario{Name: name, Shocks: make(map[string]float64, len(shocks))}
	for class, shock := range shocks {
		key := normalizeClass(class)
		if key == "" {
			return domain.StressScenario{}, &domain.InvalidParameterError{Field: "shocks", Message: "asset class must not be empty"}
		}
		if math.IsNaN(shock) || math.IsInf(shock, 0) {
			return domain.StressScenario{}, &domain.InvalidParameterError{Field: "shocks", Message: fmt.Sprintf("shock for %s is not a finite number", key)}
		}
		if shock < -100 {
			return domain.StressScenario{}, &domain.InvalidParameterError{Field: "shocks", Message: fmt.Sprintf("shock for %s is below -100%%", key)}
		}
		scenario.Shocks[key] = shock
	}
	return scenario, nil
}

func normalizeClass(class string) string {
	return strings.ToLower(strings.TrimSpace(class))
}

func clone(s domain.StressScenario) domain.StressScenario {
	out := domain.StressScenario{Name: s.Name, Description: s.Description, Shocks: make(map[string]float64, len(s.Shocks))}
	for k, v := range s.Shocks {
		out.Shocks[k] = v
	}
	return out
}
