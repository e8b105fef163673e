package scoring

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/okian/teamcomp/internal/domain/model"
)

// multiplierPlaces is the precision multipliers are rounded to.
const multiplierPlaces = 2

// PricingEntry is one row returned by the hardware pricing source.
type PricingEntry struct {
	Name        string
	DisplayName string
	Make        model.HardwareMake
	Type        model.HardwareType
	AveragePPD  float64
}

func (p PricingEntry) usable() bool {
	return p.Name != "" && p.AveragePPD > 0 && !math.IsNaN(p.AveragePPD) && !math.IsInf(p.AveragePPD, 0)
}

// Multiplier is best divided by ppd, rounded to two decimal places. Hardware
// with no performance figure gets a multiplier of zero.
func Multiplier(best, ppd float64) float64 {
	if ppd <= 0 || best <= 0 {
		return 0
	}
	return decimal.NewFromFloat(best).
		Div(decimal.NewFromFloat(ppd)).
		Round(multiplierPlaces).
		InexactFloat64()
}

// Reprice merges pricing entries into the existing hardware set and
// recomputes every priced multiplier relative to the best performer of its
// type. Entries without a usable performance figure are ignored. Existing
// hardware is matched by name; unmatched entries come back with ID zero.
// Hardware that has never been priced keeps its multiplier.
func Reprice(existing []model.Hardware, entries []PricingEntry) []model.Hardware {
	byName := make(map[string]int, len(existing))
	out := make([]model.Hardware, len(existing))
	copy(out, existing)
	for i, hw := range out {
		byName[hw.Name] = i
	}

	for _, p := range entries {
		if !p.usable() {
			continue
		}
		if i, ok := byName[p.Name]; ok {
			out[i].AveragePPD = p.AveragePPD
			continue
		}
		display := p.DisplayName
		if display == "" {
			display = p.Name
		}
		byName[p.Name] = len(out)
		out = append(out, model.Hardware{
			Name:        p.Name,
			DisplayName: display,
			Make:        p.Make,
			Type:        p.Type,
			AveragePPD:  p.AveragePPD,
		})
	}

	best := make(map[model.HardwareType]float64)
	for _, hw := range out {
		if hw.AveragePPD > best[hw.Type] {
			best[hw.Type] = hw.AveragePPD
		}
	}
	for i, hw := range out {
		if hw.AveragePPD <= 0 {
			continue
		}
		out[i].Multiplier = Multiplier(best[hw.Type], hw.AveragePPD)
	}
	return out
}
