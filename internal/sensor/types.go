// Package sensor implements the sensor instance and sensor manager:
// the closed set of sensor variants, their calibration pipeline, and
// the scheduler that drives them.
package sensor

import "time"

// Quality tags the freshness/trust level of a reading.
type Quality string

const (
	Good         Quality = "GOOD"
	Uncertain    Quality = "UNCERTAIN"
	Bad          Quality = "BAD"
	NotConnected Quality = "NOT_CONNECTED"
)

// IOPS is the one-byte provider-status tag that accompanies cyclic
// input data on the PROFINET wire.
type IOPS byte

const (
	IOPSBad       IOPS = 0x00
	IOPSUncertain IOPS = 0x40
	IOPSGood      IOPS = 0x80
	// IOPSNotConnected is not a real PROFINET IOPS value (only GOOD/BAD
	// exist on the wire); it is reported in-process via the quality
	// byte of the 5-byte payload, never as a distinct IOPS state.
	IOPSNotConnected IOPS = 0x20
)

// WireIOPS maps an in-process Quality to the two-valued IOPS byte
// that actually goes on the wire: PROFINET only carries GOOD/BAD, so
// UNCERTAIN and NOT_CONNECTED both fold to BAD.
func WireIOPS(q Quality) byte {
	if q == Good {
		return byte(IOPSGood)
	}
	return byte(IOPSBad)
}

// QualityByte encodes Quality as the fifth byte of the cyclic input
// payload, distinguishing UNCERTAIN and NOT_CONNECTED which the IOPS
// byte alone cannot.
func QualityByte(q Quality) byte {
	switch q {
	case Good:
		return byte(IOPSGood)
	case Uncertain:
		return byte(IOPSUncertain)
	case NotConnected:
		return byte(IOPSNotConnected)
	default:
		return byte(IOPSBad)
	}
}

// Variant is the closed tag enumeration of sensor configuration
// kinds. New sensor types are added by extending this set, not by
// plugging in arbitrary implementations.
type Variant string

const (
	VariantPhysical   Variant = "physical"
	VariantADC        Variant = "adc"
	VariantWebPoll    Variant = "webpoll"
	VariantCalculated Variant = "calculated"
	VariantStatic     Variant = "static"
)

// CalibrationKind selects the calibration pipeline stage applied
// after a raw reading and before EMA smoothing.
type CalibrationKind string

const (
	CalibrationNone          CalibrationKind = ""
	CalibrationLinear        CalibrationKind = "linear"
	CalibrationTwoPoint      CalibrationKind = "two_point"
	CalibrationPolynomial    CalibrationKind = "polynomial"
	CalibrationLookup        CalibrationKind = "lookup"
	CalibrationSteinhartHart CalibrationKind = "steinhart_hart"
)

// Calibration holds the parameters for every calibration kind; only
// the fields relevant to Kind are populated. One struct keeps
// configuration persistence (JSON payload) simple while Calibrator
// construction remains a closed switch over Kind.
type Calibration struct {
	Kind CalibrationKind `json:"kind,omitempty"`

	// Linear / derived scale+offset (two-point also resolves here).
	Scale  float64 `json:"scale,omitempty"`
	Offset float64 `json:"offset,omitempty"`

	// TwoPoint calibration pair: (RawLow -> EngLow), (RawHigh -> EngHigh).
	RawLow  float64 `json:"raw_low,omitempty"`
	RawHigh float64 `json:"raw_high,omitempty"`
	EngLow  float64 `json:"eng_low,omitempty"`
	EngHigh float64 `json:"eng_high,omitempty"`

	// Polynomial coefficients, highest degree first (Horner evaluation).
	Coefficients []float64 `json:"coefficients,omitempty"`

	// Lookup table, must be sorted ascending by X.
	LookupPoints []LookupPoint `json:"lookup_points,omitempty"`

	// Steinhart-Hart thermistor coefficients.
	SHA float64 `json:"sh_a,omitempty"`
	SHB float64 `json:"sh_b,omitempty"`
	SHC float64 `json:"sh_c,omitempty"`
	// SeriesResistorOhms converts a voltage-divider raw reading into
	// thermistor resistance before applying Steinhart-Hart; 0 means
	// raw is already a resistance in ohms.
	SeriesResistorOhms float64 `json:"series_resistor_ohms,omitempty"`
}

// LookupPoint is one (raw, engineering) pair of a piecewise-linear
// lookup table.
type LookupPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EMAConfig configures the optional smoothing filter applied after
// calibration. The result is the mean of valid ring-buffer samples,
// not a classic exponentially-weighted blend; the name follows
// convention for this class of smoothing filter.
type EMAConfig struct {
	Enabled    bool `json:"enabled,omitempty"`
	WindowSize int  `json:"window_size,omitempty"`
}

// PhysicalConfig configures a directly-wired sensor polled over a bus
// interface and channel.
type PhysicalConfig struct {
	Interface   string  `json:"interface"`
	Bus         int     `json:"bus"`
	Channel     int     `json:"channel"`
	Unit        string  `json:"unit"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	PollRateMs  int64   `json:"poll_rate_ms"`
	TimeoutMs   int64   `json:"timeout_ms"`
}

// ADCConfig configures a sensor read through an analog-to-digital
// converter channel, scaled from raw counts into engineering units.
type ADCConfig struct {
	Channel    int     `json:"channel"`
	Gain       float64 `json:"gain"`
	VRef       float64 `json:"reference_voltage"`
	RawMin     float64 `json:"raw_min"`
	RawMax     float64 `json:"raw_max"`
	EngMin     float64 `json:"eng_min"`
	EngMax     float64 `json:"eng_max"`
	PollRateMs int64   `json:"poll_rate_ms"`
}

// WebPollConfig configures a sensor whose value is fetched from an
// HTTP endpoint and extracted via a JSON path.
type WebPollConfig struct {
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	JSONPath   string            `json:"json_path"`
	PollRateMs int64             `json:"poll_rate_ms"`
	TimeoutMs  int64             `json:"timeout_ms"`
}

// CalculatedConfig configures a sensor whose value is derived from a
// formula over other sensors' current readings.
type CalculatedConfig struct {
	Formula      string  `json:"formula"`
	InputSensors []int64 `json:"input_sensors"`
	PollRateMs   int64   `json:"poll_rate_ms"`
}

// StaticConfig configures a fixed or operator-writable value that
// behaves like a sensor without any backing hardware.
type StaticConfig struct {
	Value    float64 `json:"value"`
	Writable bool    `json:"writable"`
}

// Config is the full persisted configuration of one sensor instance:
// the variant tag, its variant-specific payload, and the shared
// runtime parameters (calibration, EMA, quality thresholds).
type Config struct {
	ModuleID int64
	Slot     int
	Variant  Variant

	Physical   PhysicalConfig
	ADC        ADCConfig
	WebPoll    WebPollConfig
	Calculated CalculatedConfig
	Static     StaticConfig

	Calibration Calibration
	EMA         EMAConfig

	StaleTimeoutMs   int64
	FailureThreshold int64
	ValidMin         float64
	ValidMax         float64
}

// Reading is the result of a single Instance.Read call.
type Reading struct {
	Value     float64
	Quality   Quality
	Timestamp time.Time
}
