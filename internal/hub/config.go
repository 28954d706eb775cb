package hub

import (
	"encoding/json"

	"github.com/ironfield/rtuhub/internal/sensor"
	"github.com/ironfield/rtuhub/internal/store"
)

// sensorPayload is the JSON shape stored in sensor_configs.payload:
// every field of sensor.Config except the identity fields (ModuleID,
// Slot, Variant) that already live on the modules/sensor_configs rows
// themselves.
type sensorPayload struct {
	Physical   sensor.PhysicalConfig   `json:"physical,omitempty"`
	ADC        sensor.ADCConfig        `json:"adc,omitempty"`
	WebPoll    sensor.WebPollConfig    `json:"webpoll,omitempty"`
	Calculated sensor.CalculatedConfig `json:"calculated,omitempty"`
	Static     sensor.StaticConfig     `json:"static,omitempty"`

	Calibration sensor.Calibration `json:"calibration,omitempty"`
	EMA         sensor.EMAConfig   `json:"ema,omitempty"`

	StaleTimeoutMs   int64   `json:"stale_timeout_ms,omitempty"`
	FailureThreshold int64   `json:"failure_threshold,omitempty"`
	ValidMin         float64 `json:"valid_min,omitempty"`
	ValidMax         float64 `json:"valid_max,omitempty"`
}

// decodeSensorConfig joins a modules row and its sensor_configs row
// into the sensor package's runtime Config.
func decodeSensorConfig(mod store.Module, row store.SensorConfigRow) (sensor.Config, error) {
	var p sensorPayload
	if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
		return sensor.Config{}, err
	}
	return sensor.Config{
		ModuleID:         mod.ID,
		Slot:             mod.Slot,
		Variant:          sensor.Variant(row.Kind),
		Physical:         p.Physical,
		ADC:              p.ADC,
		WebPoll:          p.WebPoll,
		Calculated:       p.Calculated,
		Static:           p.Static,
		Calibration:      p.Calibration,
		EMA:              p.EMA,
		StaleTimeoutMs:   p.StaleTimeoutMs,
		FailureThreshold: p.FailureThreshold,
		ValidMin:         p.ValidMin,
		ValidMax:         p.ValidMax,
	}, nil
}

// encodeSensorConfig is the inverse of decodeSensorConfig, used by
// callers (e.g. a provisioning CLI) that write sensor_configs rows.
func encodeSensorConfig(cfg sensor.Config) (store.SensorConfigRow, error) {
	p := sensorPayload{
		Physical:         cfg.Physical,
		ADC:              cfg.ADC,
		WebPoll:          cfg.WebPoll,
		Calculated:       cfg.Calculated,
		Static:           cfg.Static,
		Calibration:      cfg.Calibration,
		EMA:              cfg.EMA,
		StaleTimeoutMs:   cfg.StaleTimeoutMs,
		FailureThreshold: cfg.FailureThreshold,
		ValidMin:         cfg.ValidMin,
		ValidMax:         cfg.ValidMax,
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return store.SensorConfigRow{}, err
	}
	return store.SensorConfigRow{
		ModuleID: cfg.ModuleID,
		Kind:     string(cfg.Variant),
		Payload:  string(payload),
	}, nil
}
