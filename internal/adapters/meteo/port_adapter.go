package meteo

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/rszemeti/solarbat-planner/internal/ports"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
)

// PortAdapter implements ports.SolarForecast by combining a MET Norway
// (Locationforecast) weather forecast with a sun-position model,
// grounded on the teacher's estimateSolarPowerFromWeather: for each
// slot it finds the nearest forecast time step, derives a solar
// altitude factor from suncalc.GetPosition, and attenuates it by cloud
// cover from the forecast's cloud_area_fraction. A snow symbol forces
// output to zero, mirroring the panels-covered-by-snow handling.
type PortAdapter struct {
	client           *Client
	Latitude         float64
	Longitude        float64
	PeakPowerKW      float64
	CloudAttenuation float64 // fraction of output lost under full cloud cover, e.g. 0.90
}

func NewPortAdapter(userAgent string, lat, lon, peakPowerKW float64) *PortAdapter {
	return &PortAdapter{
		client:           NewClient(userAgent),
		Latitude:         lat,
		Longitude:        lon,
		PeakPowerKW:      peakPowerKW,
		CloudAttenuation: 0.90,
	}
}

func (a *PortAdapter) GetForecast(ctx context.Context, from, to time.Time) ([]slotgrid.SolarPoint, error) {
	forecast, err := a.client.GetComplete(QueryParams{
		Location: Location{Latitude: a.Latitude, Longitude: a.Longitude},
	})
	if err != nil {
		return nil, ports.NewError(ports.ForecastUnavailable, "meteo.GetForecast", "fetching weather forecast", err)
	}
	if forecast.Properties == nil || len(forecast.Properties.Timeseries) == 0 {
		return nil, ports.NewError(ports.ForecastUnavailable, "meteo.GetForecast", "forecast response had no timeseries", nil)
	}

	var points []slotgrid.SolarPoint
	for t := slotgrid.NewIndex(from); t.Start.Before(to); t = t.Next() {
		kw := a.estimate(forecast, t.Start)
		points = append(points, slotgrid.SolarPoint{Slot: t, KW: kw})
	}
	return points, nil
}

func (a *PortAdapter) estimate(forecast *METJSONForecast, target time.Time) float64 {
	step := nearestStep(forecast.Properties.Timeseries, target)
	if step == nil || step.Data == nil || step.Data.Instant == nil || step.Data.Instant.Details == nil {
		return 0
	}
	details := step.Data.Instant.Details

	sunTimes := suncalc.GetTimes(target, a.Latitude, a.Longitude)
	sunrise := sunTimes["sunrise"].Value
	sunset := sunTimes["sunset"].Value
	if target.Before(sunrise) || target.After(sunset) {
		return 0
	}

	pos := suncalc.GetPosition(target, a.Latitude, a.Longitude)
	altitudeFactor := math.Sin(pos.Altitude)
	if altitudeFactor <= 0 {
		return 0
	}

	if symbol := step.GetSymbolCode(); symbol != nil && hasSnow(*symbol) {
		return 0
	}

	cloudFactor := 1.0
	if details.CloudAreaFraction != nil {
		cloudFactor = 1.0 - (*details.CloudAreaFraction/100.0)*a.CloudAttenuation
	}

	return a.PeakPowerKW * altitudeFactor * cloudFactor
}

func nearestStep(series []ForecastTimeStep, target time.Time) *ForecastTimeStep {
	var closest *ForecastTimeStep
	minDiff := time.Duration(math.MaxInt64)
	for i := range series {
		diff := series[i].Time.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff = diff
			closest = &series[i]
		}
	}
	return closest
}

// hasSnow reports whether a weather symbol denotes snowfall. The
// meteo package's WeatherSymbol carries no such predicate, so this
// matches on the symbol's published naming convention instead.
func hasSnow(ws WeatherSymbol) bool {
	return strings.Contains(string(ws), "snow")
}
