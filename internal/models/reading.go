package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hydrotrust/hydro-verifier/internal/utils"
)

// DefaultEfficiency is applied when a reading does not report turbine efficiency.
const DefaultEfficiency = 0.85

// TelemetryReading is a single measurement emitted by a run-of-river turbine.
// It is immutable once constructed from a ReadingPayload.
type TelemetryReading struct {
	DeviceID     string    `json:"deviceId"`
	Timestamp    time.Time `json:"timestamp"`
	FlowRateM3S  float64   `json:"flowRate_m3s"`
	HeadHeightM  float64   `json:"headHeight_m"`
	GeneratedKWh float64   `json:"generatedKwh"`
	PH           float64   `json:"pH"`
	TurbidityNTU float64   `json:"turbidity_ntu"`
	TemperatureC float64   `json:"temperature_c"`
	// Efficiency is nil when the device did not report it.
	Efficiency *float64 `json:"efficiency,omitempty"`
}

// EfficiencyOrDefault returns the reported efficiency and whether the default was used.
func (r TelemetryReading) EfficiencyOrDefault() (float64, bool) {
	if r.Efficiency == nil {
		return DefaultEfficiency, true
	}
	return *r.Efficiency, false
}

// ReadingPayload is the wire representation of a reading. Numeric fields are pointers so a
// missing field can be told apart from a zero value.
type ReadingPayload struct {
	DeviceID     string   `json:"deviceId" validate:"required,max=128"`
	Timestamp    string   `json:"timestamp" validate:"required"`
	FlowRateM3S  *float64 `json:"flowRate_m3s" validate:"required,gte=0"`
	HeadHeightM  *float64 `json:"headHeight_m" validate:"required,gte=0"`
	GeneratedKWh *float64 `json:"generatedKwh" validate:"required,gte=0"`
	PH           *float64 `json:"pH" validate:"required,gte=0,lte=14"`
	TurbidityNTU *float64 `json:"turbidity_ntu" validate:"required,gte=0"`
	TemperatureC *float64 `json:"temperature_c" validate:"required,gte=-50,lte=100"`
	Efficiency   *float64 `json:"efficiency,omitempty" validate:"omitempty,gt=0,lte=1"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ToReading validates the payload and converts it into an immutable TelemetryReading.
// Failures are returned as *InputError.
func (p ReadingPayload) ToReading() (TelemetryReading, error) {
	if strings.TrimSpace(p.DeviceID) == "" {
		return TelemetryReading{}, &InputError{Field: "deviceId", Reason: "is required"}
	}
	if err := payloadValidator().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return TelemetryReading{}, &InputError{
				Field:  jsonFieldName(fe.Field()),
				Reason: fmt.Sprintf("failed %q constraint", fe.Tag()),
			}
		}
		return TelemetryReading{}, &InputError{Field: "payload", Reason: err.Error()}
	}

	ts, err := utils.ParseTimestamp(p.Timestamp)
	if err != nil {
		return TelemetryReading{}, &InputError{Field: "timestamp", Reason: "must be RFC3339"}
	}

	reading := TelemetryReading{
		DeviceID:     strings.TrimSpace(p.DeviceID),
		Timestamp:    ts,
		FlowRateM3S:  *p.FlowRateM3S,
		HeadHeightM:  *p.HeadHeightM,
		GeneratedKWh: *p.GeneratedKWh,
		PH:           *p.PH,
		TurbidityNTU: *p.TurbidityNTU,
		TemperatureC: *p.TemperatureC,
	}
	if p.Efficiency != nil {
		eff := *p.Efficiency
		reading.Efficiency = &eff
	}
	return reading, nil
}

// Validate re-checks the invariants of an already constructed reading. Callers that build
// TelemetryReading directly (tests, batch importers) go through the same gate as the wire form.
func (r TelemetryReading) Validate() error {
	return r.Payload().validateOnly()
}

// Payload converts the reading back to its wire representation.
func (r TelemetryReading) Payload() ReadingPayload {
	flow, head, gen := r.FlowRateM3S, r.HeadHeightM, r.GeneratedKWh
	ph, turb, temp := r.PH, r.TurbidityNTU, r.TemperatureC
	p := ReadingPayload{
		DeviceID:     r.DeviceID,
		FlowRateM3S:  &flow,
		HeadHeightM:  &head,
		GeneratedKWh: &gen,
		PH:           &ph,
		TurbidityNTU: &turb,
		TemperatureC: &temp,
	}
	if !r.Timestamp.IsZero() {
		p.Timestamp = r.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if r.Efficiency != nil {
		eff := *r.Efficiency
		p.Efficiency = &eff
	}
	return p
}

func (p ReadingPayload) validateOnly() error {
	_, err := p.ToReading()
	return err
}

func jsonFieldName(structField string) string {
	switch structField {
	case "DeviceID":
		return "deviceId"
	case "Timestamp":
		return "timestamp"
	case "FlowRateM3S":
		return "flowRate_m3s"
	case "HeadHeightM":
		return "headHeight_m"
	case "GeneratedKWh":
		return "generatedKwh"
	case "PH":
		return "pH"
	case "TurbidityNTU":
		return "turbidity_ntu"
	case "TemperatureC":
		return "temperature_c"
	case "Efficiency":
		return "efficiency"
	default:
		return structField
	}
}
