// Package ml implements the ML planner: a whole-plan 15-named-scalar
// feature vector feeds a linear classifier/regressor predicting
// whether and for how long Feed-in-Priority should run, a physics-
// guided refinement pass corrects the suggested transition point
// against actual simulated clipping, and a per-slot ladder parallel to
// the rule-based planner's fills in the remaining decisions. Grounded
// on the original ml_planner.py's feature set and "physics-guided"
// refinement pass.
package ml

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/rszemeti/solarbat-planner/internal/physics"
	"github.com/rszemeti/solarbat-planner/internal/planner"
	"github.com/rszemeti/solarbat-planner/internal/ports"
	"github.com/rszemeti/solarbat-planner/internal/slotgrid"
)

// NumFeatures is the size of the whole-plan feature vector the model
// consumes, mirroring the original's 15 named scalars.
const NumFeatures = 15

// featureNames documents the fixed order extractFeatures produces
// them in; both weight files and extractFeatures must agree on it.
var featureNames = [NumFeatures]string{
	"soc_start", "capacity_kWh", "headroom_kWh", "total_solar_kWh", "peak_solar_kW",
	"solar_efficiency", "net_surplus_kWh", "total_load_kWh", "evening_peak_kW",
	"overnight_avg_price", "peak_avg_price", "price_spread", "arbitrage_margin_after_losses",
	"surplus_ratio", "surplus_per_kWh_capacity",
}

// Artefacts holds the trained classifier and regressor weights, loaded
// from a JSON file. Both are a single NumFeatures+1-long row (bias
// last): ClassifierWeights feeds a sigmoid producing use_feed_in's
// probability, RegressorWeights a linear score clamped to [0,16]
// hours.
type Artefacts struct {
	ClassifierWeights []float64 `json:"classifier_weights"`
	RegressorWeights  []float64 `json:"regressor_weights"`
}

// LoadArtefacts reads model weights from path. A missing or malformed
// file is reported as ModelArtefactMissing so the caller can fall back
// to the heuristic planner rather than crash.
func LoadArtefacts(path string) (*Artefacts, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ports.NewError(ports.ModelArtefactMissing, "ml.LoadArtefacts", "opening model file", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, ports.NewError(ports.ModelArtefactMissing, "ml.LoadArtefacts", "reading model file", err)
	}
	var a Artefacts
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, ports.NewError(ports.ModelArtefactMissing, "ml.LoadArtefacts", "decoding model file", err)
	}
	if len(a.ClassifierWeights) != NumFeatures+1 {
		return nil, ports.NewError(ports.ModelArtefactMissing, "ml.LoadArtefacts", "classifier weight count mismatch", nil)
	}
	return &a, nil
}

// Prediction is the model's whole-plan output before physics-guided
// refinement.
type Prediction struct {
	UseFeedIn   bool
	FeedInHours float64
	Confidence  float64 // in [0,1]
}

// Planner is the ML implementation of planner.Planner. Artefacts may
// be nil, in which case CreatePlan always uses the fallback heuristic.
type Planner struct {
	Config     planner.Config
	Physics    *physics.Model
	Artefacts  *Artefacts
	Thresholds LadderThresholds
}

// LadderThresholds parallels rulebased.Thresholds for the per-slot
// rules the ML planner falls back to outside its feed-in/pre-sunrise
// windows.
type LadderThresholds struct {
	DaylightSolarKW               float64
	ArbitrageSOCCeilingPercent    float64
	LowSOCPercent                 float64
	LowSOCFutureDeficitKWh        float64
	LowSOCPriceToleranceFactor    float64
	HighSOCPercent                float64
	WastageFutureSurplusKWh       float64
	DischargeSOCFloorPercent      float64
	DischargeMarginPence          float64
	SurplusSafetyMarginKWh        float64
	PreSunriseShortfallKWh        float64
	PreSunriseMinTargetSOCPercent float64
}

func defaultLadderThresholds() LadderThresholds {
	return LadderThresholds{
		DaylightSolarKW:               0.5,
		ArbitrageSOCCeilingPercent:    92.0,
		LowSOCPercent:                 30.0,
		LowSOCFutureDeficitKWh:        0.5,
		LowSOCPriceToleranceFactor:    1.1,
		HighSOCPercent:                80.0,
		WastageFutureSurplusKWh:       2.0,
		DischargeSOCFloorPercent:      40.0,
		DischargeMarginPence:          2.0,
		SurplusSafetyMarginKWh:        2.0,
		PreSunriseShortfallKWh:        1.0,
		PreSunriseMinTargetSOCPercent: 15.0,
	}
}

func New(cfg planner.Config, caps slotgrid.Capabilities, artefacts *Artefacts) *Planner {
	return &Planner{Config: cfg, Physics: physics.New(caps), Artefacts: artefacts, Thresholds: defaultLadderThresholds()}
}

func (p *Planner) Info() planner.Info {
	return planner.Info{
		Name:        "ml",
		Type:        "machine_learning",
		Version:     "1.0",
		Description: "Whole-plan feed-in classifier/regressor with physics-guided clipping refinement and heuristic fallback",
	}
}

func (p *Planner) CreatePlan(ctx context.Context, in planner.Inputs) (*slotgrid.Plan, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if p.Physics == nil {
		p.Physics = physics.New(in.Caps)
	} else {
		p.Physics.Caps = in.Caps
	}
	th := p.Thresholds

	pred := p.predict(in)
	feedInStart, feedInEnd := p.physicsGuidedRefine(pred, in, th)
	preSunStart, preSunEnd, preSunTargetSOC := preSunriseWindow(in, feedInStart, feedInEnd, th)

	n := len(in.Horizon)
	slots := make([]slotgrid.PlanSlot, 0, n)
	battery := in.Battery

	for t := 0; t < n; t++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		mode, rateKW, targetSOC := decideMode(t, in, battery, th, p.Config.MinProfitMarginPence, feedInStart, feedInEnd, preSunStart, preSunEnd, preSunTargetSOC)

		res, err := p.Physics.Simulate(in.Horizon[t], mode, in.Solar[t].KW, in.Load[t].KW, in.ImportPrices[t].PencePerKWh, in.ExportPrices[t].PencePerKWh, battery, rateKW, rateKW, targetSOC)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slotgrid.PlanSlot{
			Slot: in.Horizon[t], Mode: mode, Result: res,
			ImportPrice: in.ImportPrices[t], ExportPrice: in.ExportPrices[t], Solar: in.Solar[t], Load: in.Load[t],
		})
		battery.SOCPercent = res.SOCAfterPercent
	}

	plan := planner.NewPlan(time.Now(), p.Info().Name, slots)
	if p.Artefacts == nil {
		plan.Confidence = slotgrid.ConfidenceLow
	}
	return plan, nil
}

// extractFeatures builds the whole-plan 15-scalar feature vector named
// in featureNames, mirroring the original ml_planner.py feature set.
func extractFeatures(in planner.Inputs) [NumFeatures]float64 {
	caps := in.Caps
	socStart := in.Battery.SOCPercent
	headroomKWh := (caps.MaxSOCPercent - socStart) / 100 * caps.BatteryCapacityKWh

	var totalSolarKWh, peakSolarKW, netSurplusKWh, totalLoadKWh, eveningPeakKW float64
	var daylightHours float64
	for t, s := range in.Solar {
		solarKWh := s.KW * slotgrid.SlotHours
		loadKWh := in.Load[t].KW * slotgrid.SlotHours
		totalSolarKWh += solarKWh
		totalLoadKWh += loadKWh
		if s.KW > peakSolarKW {
			peakSolarKW = s.KW
		}
		if s.KW > 0.5 {
			daylightHours += slotgrid.SlotHours
		}
		if net := solarKWh - loadKWh; net > 0 {
			netSurplusKWh += net
		}
		hour := s.Slot.Start.Hour()
		if hour >= 17 && hour < 21 && in.Load[t].KW > eveningPeakKW {
			eveningPeakKW = in.Load[t].KW
		}
	}
	solarEfficiency := 0.0
	if peakSolarKW > 0 && daylightHours > 0 {
		solarEfficiency = totalSolarKWh / (peakSolarKW * daylightHours)
	}

	overnightAvg := windowAvgImportPrice(in, 0, 6)
	peakAvg := windowAvgImportPrice(in, 17, 21)
	avgImport, minImport, maxImport := priceStats(in.ImportPrices)
	_, _, maxExport := priceStats(in.ExportPrices)
	priceSpread := maxImport - minImport

	arbitrageMargin := maxExport*caps.RoundTripEfficiency() - avgImport

	surplusRatio := 0.0
	if headroomKWh > 1e-9 {
		surplusRatio = netSurplusKWh / headroomKWh
	}
	surplusPerKWhCapacity := 0.0
	if caps.BatteryCapacityKWh > 0 {
		surplusPerKWhCapacity = netSurplusKWh / caps.BatteryCapacityKWh
	}

	return [NumFeatures]float64{
		socStart, caps.BatteryCapacityKWh, headroomKWh, totalSolarKWh, peakSolarKW,
		solarEfficiency, netSurplusKWh, totalLoadKWh, eveningPeakKW,
		overnightAvg, peakAvg, priceSpread, arbitrageMargin,
		surplusRatio, surplusPerKWhCapacity,
	}
}

func windowAvgImportPrice(in planner.Inputs, fromHour, toHour int) float64 {
	sum, count := 0.0, 0
	for _, p := range in.ImportPrices {
		h := p.Slot.Start.Hour()
		if h >= fromHour && h < toHour {
			sum += p.PencePerKWh
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func priceStats(prices []slotgrid.Price) (avg, min, max float64) {
	if len(prices) == 0 {
		return 0, 0, 0
	}
	min, max = prices[0].PencePerKWh, prices[0].PencePerKWh
	sum := 0.0
	for _, p := range prices {
		sum += p.PencePerKWh
		if p.PencePerKWh < min {
			min = p.PencePerKWh
		}
		if p.PencePerKWh > max {
			max = p.PencePerKWh
		}
	}
	return sum / float64(len(prices)), min, max
}

// predict runs the classifier/regressor when artefacts are loaded,
// otherwise falls back to the fixed heuristic banding from §4.5.
func (p *Planner) predict(in planner.Inputs) Prediction {
	features := extractFeatures(in)
	if p.Artefacts == nil {
		return heuristicPredict(features)
	}

	x := make([]float64, NumFeatures+1)
	copy(x, features[:])
	x[NumFeatures] = 1 // bias term
	xVec := mat.NewVecDense(len(x), x)

	if len(p.Artefacts.ClassifierWeights) != len(x) {
		return heuristicPredict(features)
	}
	cw := mat.NewVecDense(len(p.Artefacts.ClassifierWeights), p.Artefacts.ClassifierWeights)
	classScore := mat.Dot(cw, xVec)
	prob := sigmoid(classScore)

	hours := 0.0
	if len(p.Artefacts.RegressorWeights) == len(x) {
		rw := mat.NewVecDense(len(p.Artefacts.RegressorWeights), p.Artefacts.RegressorWeights)
		hours = clampF(mat.Dot(rw, xVec), 0, 16)
	}

	return Prediction{
		UseFeedIn:   prob > 0.5,
		FeedInHours: hours,
		Confidence:  math.Abs(prob-0.5) * 2,
	}
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// heuristicPredict is the deterministic fallback used whenever no
// model artefact is loaded: use_feed_in = (net_surplus > headroom+2)
// OR (peak_solar > 5kW); hours chosen by banded surplus.
func heuristicPredict(f [NumFeatures]float64) Prediction {
	headroomKWh, netSurplusKWh, peakSolarKW := f[2], f[6], f[4]
	useFeedIn := netSurplusKWh > headroomKWh+2 || peakSolarKW > 5
	hours := 0.0
	switch {
	case netSurplusKWh > 10:
		hours = 14
	case netSurplusKWh >= 10:
		hours = 12
	case netSurplusKWh >= 5:
		hours = 10
	case netSurplusKWh >= 2:
		hours = 8
	}
	return Prediction{UseFeedIn: useFeedIn, FeedInHours: hours, Confidence: 0.5}
}

// physicsGuidedRefine implements §4.5 step 2: picks a transition slot
// within the daylight window, sized by the model's feed_in_hours
// suggestion, and accepts it only if simulating Feed-in-Priority up to
// the transition then Self-Use after yields at least 2 kWh less
// clipping than running Self-Use throughout. Otherwise the ML
// suggestion is rejected outright (no feed-in window at all), which is
// what keeps an over-eager prediction from ever increasing clipping.
func (p *Planner) physicsGuidedRefine(pred Prediction, in planner.Inputs, th LadderThresholds) (int, int) {
	if !pred.UseFeedIn {
		return -1, -1
	}
	daylightStart, daylightEnd := daylightWindow(in, th.DaylightSolarKW)
	if daylightStart < 0 {
		return -1, -1
	}

	slots := int(math.Round(pred.FeedInHours / slotgrid.SlotHours)) // hours -> half-hour slots
	transition := daylightStart + slots
	if transition > daylightEnd+1 {
		transition = daylightEnd + 1
	}
	if transition <= daylightStart {
		return -1, -1
	}

	baselineClipped := p.simulateClippingOverWindow(in, daylightStart, daylightEnd, daylightStart /* transition at window start: every slot stays Self-Use */)
	candidateClipped := p.simulateClippingOverWindow(in, daylightStart, daylightEnd, transition)

	if baselineClipped-candidateClipped >= 2.0 {
		return daylightStart, transition - 1
	}
	return -1, -1
}

// simulateClippingOverWindow projects battery state up to windowStart
// via Self-Use, then simulates FeedInPriority for slots in
// [windowStart, transition) and Self-Use for the remainder of
// [windowStart, windowEnd], returning total clipped kWh over that
// range. It never mutates the caller's battery state.
func (p *Planner) simulateClippingOverWindow(in planner.Inputs, windowStart, windowEnd, transition int) float64 {
	battery := in.Battery
	for t := 0; t < windowStart; t++ {
		res, err := p.Physics.Simulate(in.Horizon[t], slotgrid.SelfUse, in.Solar[t].KW, in.Load[t].KW, in.ImportPrices[t].PencePerKWh, in.ExportPrices[t].PencePerKWh, battery, 0, 0, nil)
		if err != nil {
			return math.Inf(1)
		}
		battery.SOCPercent = res.SOCAfterPercent
	}

	clipped := 0.0
	for t := windowStart; t <= windowEnd; t++ {
		mode := slotgrid.SelfUse
		if t < transition {
			mode = slotgrid.FeedInPriority
		}
		res, err := p.Physics.Simulate(in.Horizon[t], mode, in.Solar[t].KW, in.Load[t].KW, in.ImportPrices[t].PencePerKWh, in.ExportPrices[t].PencePerKWh, battery, 0, 0, nil)
		if err != nil {
			return math.Inf(1)
		}
		clipped += res.ClippedKWh
		battery.SOCPercent = res.SOCAfterPercent
	}
	return clipped
}

func daylightWindow(in planner.Inputs, thresholdKW float64) (int, int) {
	start, end := -1, -1
	for i, s := range in.Solar {
		if s.KW > thresholdKW {
			if start < 0 {
				start = i
			}
			end = i
		}
	}
	return start, end
}

// preSunriseWindow mirrors the rule-based planner's §4.3.2 procedure:
// a discharge window sized to the day's projected solar surplus,
// placed immediately before sunrise. Duplicated rather than imported
// from the rulebased package to keep the ML planner's dependency
// surface limited to physics and its own thresholds.
func preSunriseWindow(in planner.Inputs, feedInStart, feedInEnd int, th LadderThresholds) (int, int, *float64) {
	caps := in.Caps
	if len(in.Horizon) == 0 {
		return -1, -1, nil
	}

	windowStart, windowEnd := feedInStart, feedInEnd
	if windowStart < 0 {
		windowStart, windowEnd = daylightWindow(in, th.DaylightSolarKW)
	}
	netSolarKWh := 0.0
	if windowStart >= 0 {
		for t := windowStart; t <= windowEnd && t < len(in.Horizon); t++ {
			net := in.Solar[t].KW*slotgrid.SlotHours - in.Load[t].KW*slotgrid.SlotHours
			if net > 0 {
				netSolarKWh += net
			}
		}
	}
	if netSolarKWh <= 0 {
		return -1, -1, nil
	}

	// With no sunrise oracle wired into this package, the "now to
	// sunrise" forward drain is approximated by the slots before the
	// daylight/feed-in window starts.
	sunriseIdx := windowStart
	if sunriseIdx <= 0 {
		return -1, -1, nil
	}

	socAtSunrise := in.Battery.SOCPercent
	for t := 0; t < sunriseIdx; t++ {
		netKWh := in.Solar[t].KW*slotgrid.SlotHours - in.Load[t].KW*slotgrid.SlotHours
		deltaPct := 0.0
		if caps.BatteryCapacityKWh > 0 {
			deltaPct = netKWh / caps.BatteryCapacityKWh * 100
		}
		socAtSunrise = clampF(socAtSunrise+deltaPct, caps.MinSOCPercent, caps.MaxSOCPercent)
	}
	headroomAtSunriseKWh := (caps.MaxSOCPercent - socAtSunrise) / 100 * caps.BatteryCapacityKWh

	spaceShortfallKWh := netSolarKWh - headroomAtSunriseKWh
	if spaceShortfallKWh <= th.PreSunriseShortfallKWh {
		return -1, -1, nil
	}

	targetSOC := caps.MaxSOCPercent - (netSolarKWh+th.SurplusSafetyMarginKWh)/caps.BatteryCapacityKWh*100
	if targetSOC < th.PreSunriseMinTargetSOCPercent {
		targetSOC = th.PreSunriseMinTargetSOCPercent
	}

	energyToShedKWh := (in.Battery.SOCPercent - targetSOC) / 100 * caps.BatteryCapacityKWh
	if energyToShedKWh <= 0 || caps.MaxDischargeRateKW <= 0 {
		return -1, -1, nil
	}
	durationHours := energyToShedKWh / caps.MaxDischargeRateKW
	numSlots := int(math.Ceil(durationHours / slotgrid.SlotHours))
	if numSlots <= 0 {
		return -1, -1, nil
	}

	endIdx := sunriseIdx - 1
	startIdx := endIdx - numSlots + 1
	if startIdx < 0 {
		startIdx = 0
	}
	if startIdx > endIdx {
		return -1, -1, nil
	}
	target := targetSOC
	return startIdx, endIdx, &target
}

// decideMode picks the mode for slot t, enforcing the pre-sunrise and
// feed-in windows from steps 2-3 before falling through to a ladder
// parallel to §4.3.3's remaining rules.
func decideMode(t int, in planner.Inputs, battery slotgrid.BatteryState, th LadderThresholds, arbitrageMarginPence float64, feedInStart, feedInEnd, preSunStart, preSunEnd int, preSunTargetSOC *float64) (slotgrid.Mode, float64, *float64) {
	caps := in.Caps
	if preSunStart >= 0 && t >= preSunStart && t <= preSunEnd {
		return slotgrid.ForceDischarge, caps.MaxDischargeRateKW, preSunTargetSOC
	}
	if feedInStart >= 0 && t >= feedInStart && t <= feedInEnd {
		return slotgrid.FeedInPriority, 0, nil
	}

	imp, exp := in.ImportPrices[t], in.ExportPrices[t]

	if exp.PencePerKWh > imp.PencePerKWh+arbitrageMarginPence && battery.SOCPercent < th.ArbitrageSOCCeilingPercent {
		return slotgrid.ForceCharge, caps.MaxChargeRateKW, nil
	}

	futureDeficitKWh, futureMinImportPence, futureSurplusKWh := futureOutlook(t, in)

	if battery.SOCPercent < th.LowSOCPercent && futureDeficitKWh > th.LowSOCFutureDeficitKWh &&
		imp.PencePerKWh <= futureMinImportPence*th.LowSOCPriceToleranceFactor {
		return slotgrid.ForceCharge, caps.MaxChargeRateKW, nil
	}

	if battery.SOCPercent > th.HighSOCPercent && futureSurplusKWh > th.WastageFutureSurplusKWh {
		return slotgrid.SelfUse, 0, nil
	}

	if exp.PencePerKWh > imp.PencePerKWh+th.DischargeMarginPence && battery.SOCPercent > th.DischargeSOCFloorPercent {
		return slotgrid.ForceDischarge, caps.MaxDischargeRateKW, nil
	}

	return slotgrid.SelfUse, 0, nil
}

func futureOutlook(i int, in planner.Inputs) (deficitKWh, minImportPence, surplusKWh float64) {
	minImportPence = math.Inf(1)
	for t := i + 1; t < len(in.Horizon); t++ {
		net := in.Solar[t].KW*slotgrid.SlotHours - in.Load[t].KW*slotgrid.SlotHours
		if net < 0 {
			deficitKWh += -net
		} else {
			surplusKWh += net
		}
		if in.ImportPrices[t].PencePerKWh < minImportPence {
			minImportPence = in.ImportPrices[t].PencePerKWh
		}
	}
	if math.IsInf(minImportPence, 1) {
		minImportPence = 0
	}
	return deficitKWh, minImportPence, surplusKWh
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
