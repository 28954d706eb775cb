package sensor

import "math"

// Calibrator converts a raw reading into engineering units. The five
// kinds form a closed set, so NewCalibrator is a plain switch rather
// than a registry.
type Calibrator interface {
	Apply(raw float64) float64
}

// NewCalibrator builds the Calibrator for cfg.Kind. CalibrationNone
// returns the identity calibrator.
func NewCalibrator(cfg Calibration) Calibrator {
	switch cfg.Kind {
	case CalibrationLinear:
		return linearCalibrator{scale: cfg.Scale, offset: cfg.Offset}
	case CalibrationTwoPoint:
		return newTwoPointCalibrator(cfg)
	case CalibrationPolynomial:
		return polynomialCalibrator{coefficients: cfg.Coefficients}
	case CalibrationLookup:
		return lookupCalibrator{points: cfg.LookupPoints}
	case CalibrationSteinhartHart:
		return steinhartHartCalibrator{a: cfg.SHA, b: cfg.SHB, c: cfg.SHC, seriesR: cfg.SeriesResistorOhms}
	default:
		return identityCalibrator{}
	}
}

type identityCalibrator struct{}

func (identityCalibrator) Apply(raw float64) float64 { return raw }

type linearCalibrator struct {
	scale  float64
	offset float64
}

func (c linearCalibrator) Apply(raw float64) float64 { return c.scale*raw + c.offset }

// newTwoPointCalibrator derives scale/offset from a calibration pair
// (RawLow -> EngLow), (RawHigh -> EngHigh).
func newTwoPointCalibrator(cfg Calibration) Calibrator {
	span := cfg.RawHigh - cfg.RawLow
	if span == 0 {
		return identityCalibrator{}
	}
	scale := (cfg.EngHigh - cfg.EngLow) / span
	offset := cfg.EngLow - scale*cfg.RawLow
	return linearCalibrator{scale: scale, offset: offset}
}

type polynomialCalibrator struct {
	// coefficients are highest-degree first, evaluated with Horner's
	// method.
	coefficients []float64
}

func (c polynomialCalibrator) Apply(raw float64) float64 {
	if len(c.coefficients) == 0 {
		return raw
	}
	result := c.coefficients[0]
	for _, coeff := range c.coefficients[1:] {
		result = result*raw + coeff
	}
	return result
}

type lookupCalibrator struct {
	points []LookupPoint
}

// Apply performs piecewise-linear interpolation, clamping to the
// table's boundary values outside its domain.
func (c lookupCalibrator) Apply(raw float64) float64 {
	n := len(c.points)
	if n == 0 {
		return raw
	}
	if n == 1 || raw <= c.points[0].X {
		return c.points[0].Y
	}
	if raw >= c.points[n-1].X {
		return c.points[n-1].Y
	}
	for i := 0; i < n-1; i++ {
		lo, hi := c.points[i], c.points[i+1]
		if raw >= lo.X && raw <= hi.X {
			if hi.X == lo.X {
				return lo.Y
			}
			t := (raw - lo.X) / (hi.X - lo.X)
			return lo.Y + t*(hi.Y-lo.Y)
		}
	}
	return c.points[n-1].Y
}

type steinhartHartCalibrator struct {
	a, b, c float64
	seriesR float64
}

// Apply implements the Steinhart-Hart thermistor equation:
// 1/T = A + B*ln(R) + C*ln(R)^3, returning degrees Celsius. When
// seriesR is set, raw is treated as a voltage-divider ratio (0..1)
// and converted to thermistor resistance first.
func (c steinhartHartCalibrator) Apply(raw float64) float64 {
	r := raw
	if c.seriesR > 0 {
		if raw <= 0 || raw >= 1 {
			return math.NaN()
		}
		r = c.seriesR * raw / (1 - raw)
	}
	if r <= 0 {
		return math.NaN()
	}
	lnR := math.Log(r)
	invT := c.a + c.b*lnR + c.c*lnR*lnR*lnR
	if invT == 0 {
		return math.NaN()
	}
	kelvin := 1 / invT
	return kelvin - 273.15
}
