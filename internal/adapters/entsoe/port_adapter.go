package entsoe

import (
	"context"
	"time"

	"github.com/rszemeti/solarbat-planner/internal/ports"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
)

// PortAdapter implements ports.PriceSource over the ENTSO-E day-ahead
// publication market document: wholesale EUR/MWh prices are converted
// to pence/kWh and adjusted by flat operator/delivery fees, mirroring
// the teacher's import/export price adjustment constants. Export
// price is a flat feed-in tariff (ENTSO-E publishes wholesale import
// prices only); slots beyond the published horizon repeat the last
// known price and are marked IsPredicted.
type PortAdapter struct {
	SecurityToken          string
	URLFormat              string
	Location               *time.Location
	ImportOperatorFeePence float64
	ImportDeliveryFeePence float64
	ExportTariffPence      float64
	EURPerMWhToPencePerKWh float64 // conversion rate, e.g. current GBP/EUR * 0.1
}

func NewPortAdapter(securityToken, urlFormat string, location *time.Location, exchangeRate float64) *PortAdapter {
	return &PortAdapter{
		SecurityToken:          securityToken,
		URLFormat:              urlFormat,
		Location:               location,
		EURPerMWhToPencePerKWh: exchangeRate * 0.1, // EUR/MWh -> EUR/kWh (/1000) -> pence (*100) == /10
		ExportTariffPence:      5.0,
	}
}

func (a *PortAdapter) GetPrices(ctx context.Context, from, to time.Time) ([]slotgrid.Price, []slotgrid.Price, error) {
	doc, err := DownloadPublicationMarketData(ctx, a.SecurityToken, a.URLFormat, a.Location)
	if err != nil {
		return nil, nil, ports.NewError(ports.ForecastUnavailable, "entsoe.GetPrices", "downloading market data", err)
	}

	var imports, exports []slotgrid.Price
	var lastPence float64
	havePrice := false

	for t := slotgrid.NewIndex(from); t.Start.Before(to); t = t.Next() {
		pence, predicted := a.lookupPence(doc, t.Start)
		if predicted && havePrice {
			pence = lastPence
		} else if !predicted {
			lastPence = pence
			havePrice = true
		}
		imports = append(imports, slotgrid.Price{Slot: t, PencePerKWh: pence + a.ImportOperatorFeePence + a.ImportDeliveryFeePence, IsPredicted: predicted})
		exports = append(exports, slotgrid.Price{Slot: t, PencePerKWh: a.ExportTariffPence, IsPredicted: false})
	}
	return imports, exports, nil
}

func (a *PortAdapter) lookupPence(doc *PublicationMarketDocument, t time.Time) (pence float64, predicted bool) {
	eurPerMWh, ok := doc.LookupPriceByTime(t)
	if !ok {
		return 0, true
	}
	return eurPerMWh * a.EURPerMWhToPencePerKWh, false
}
