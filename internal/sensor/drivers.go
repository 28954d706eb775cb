package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ironfield/rtuhub/internal/rtuerr"
)

// rawSample is what a driver hands back before calibration/EMA are
// applied: a raw numeric value plus whether the read itself succeeded.
type rawSample struct {
	value     float64
	connected bool
}

// driver performs the variant-specific I/O for one sensor instance.
// The five variants are a closed set, so drivers are constructed by
// NewDriver's switch rather than discovered by name.
type driver interface {
	read(ctx context.Context) (rawSample, error)
}

// NewDriver builds the driver for cfg.Variant. resolver supplies the
// current values of other sensors, used only by the Calculated
// variant to resolve its InputSensors by module id.
func NewDriver(cfg Config, resolver InputResolver) (driver, error) {
	switch cfg.Variant {
	case VariantPhysical:
		return &physicalDriver{cfg: cfg.Physical}, nil
	case VariantADC:
		return &adcDriver{cfg: cfg.ADC}, nil
	case VariantWebPoll:
		return newWebPollDriver(cfg.WebPoll), nil
	case VariantCalculated:
		return newCalculatedDriver(cfg.Calculated, resolver)
	case VariantStatic:
		return &staticDriver{cfg: cfg.Static}, nil
	default:
		return nil, rtuerr.New(rtuerr.InvalidParam, "sensor", "NewDriver", fmt.Sprintf("unknown variant %q", cfg.Variant))
	}
}

// InputResolver supplies the current engineering-unit value of
// another sensor, keyed by its module id. The Sensor Manager
// implements this over its live instance table.
type InputResolver interface {
	ValueOf(moduleID int64) (float64, bool)
}

// physicalDriver reads a bus-attached field device. The bus/interface
// access itself is hardware-specific and out of scope here; this
// implementation gives the expected shape for a concrete bus backend
// to be substituted (swap the body of read, keep the driver contract).
type physicalDriver struct {
	cfg PhysicalConfig
}

func (d *physicalDriver) read(ctx context.Context) (rawSample, error) {
	if d.cfg.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(d.cfg.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	select {
	case <-ctx.Done():
		return rawSample{}, ctx.Err()
	default:
	}
	return rawSample{}, rtuerr.New(rtuerr.NotSupported, "sensor", "physicalDriver.read",
		fmt.Sprintf("no bus backend registered for interface %q", d.cfg.Interface))
}

// adcDriver reads an analog-to-digital converter channel. Raw counts
// acquisition is hardware-specific, so a concrete backend (or a test)
// feeds samples in through setRawCounts; read itself always performs
// the clamp-to-[RawMin,RawMax] then linear-map-to-[EngMin,EngMax]
// conversion, which is pure math and needs no hardware to exercise.
type adcDriver struct {
	cfg ADCConfig

	mu      sync.Mutex
	raw     float64
	haveRaw bool
}

func (d *adcDriver) read(ctx context.Context) (rawSample, error) {
	select {
	case <-ctx.Done():
		return rawSample{}, ctx.Err()
	default:
	}
	d.mu.Lock()
	raw, ok := d.raw, d.haveRaw
	d.mu.Unlock()
	if !ok {
		return rawSample{}, rtuerr.New(rtuerr.NotSupported, "sensor", "adcDriver.read",
			fmt.Sprintf("no ADC backend registered for channel %d", d.cfg.Channel))
	}
	return rawSample{value: scaleADC(d.cfg, raw), connected: true}, nil
}

// setRawCounts injects the latest raw ADC sample. This is the seam a
// concrete backend writes through in place of real hardware
// acquisition.
func (d *adcDriver) setRawCounts(raw float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.raw = raw
	d.haveRaw = true
}

// scaleADC clamps raw to [cfg.RawMin, cfg.RawMax] then linearly maps
// it onto [cfg.EngMin, cfg.EngMax].
func scaleADC(cfg ADCConfig, raw float64) float64 {
	clamped := raw
	if clamped < cfg.RawMin {
		clamped = cfg.RawMin
	}
	if clamped > cfg.RawMax {
		clamped = cfg.RawMax
	}
	span := cfg.RawMax - cfg.RawMin
	if span == 0 {
		return cfg.EngMin
	}
	frac := (clamped - cfg.RawMin) / span
	return cfg.EngMin + frac*(cfg.EngMax-cfg.EngMin)
}

// webPollDriver fetches a value from an HTTP endpoint and extracts a
// field by a dotted JSON path.
type webPollDriver struct {
	cfg    WebPollConfig
	client *http.Client
}

func newWebPollDriver(cfg WebPollConfig) *webPollDriver {
	timeout := 5 * time.Second
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	return &webPollDriver{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (d *webPollDriver) read(ctx context.Context) (rawSample, error) {
	method := d.cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, d.cfg.URL, nil)
	if err != nil {
		return rawSample{}, rtuerr.Wrap(err, rtuerr.InvalidParam, "sensor", "webPollDriver.read", "build request")
	}
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return rawSample{connected: false}, rtuerr.Wrap(err, rtuerr.IoError, "sensor", "webPollDriver.read", "http request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rawSample{connected: false}, rtuerr.New(rtuerr.IoError, "sensor", "webPollDriver.read", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return rawSample{connected: false}, rtuerr.Wrap(err, rtuerr.IoError, "sensor", "webPollDriver.read", "read response body")
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return rawSample{connected: false}, rtuerr.Wrap(err, rtuerr.IoError, "sensor", "webPollDriver.read", "parse response JSON")
	}

	v, err := extractJSONPath(doc, d.cfg.JSONPath)
	if err != nil {
		return rawSample{connected: false}, err
	}
	return rawSample{value: v, connected: true}, nil
}

// extractJSONPath walks a dotted path like "data.reading.value" over a
// decoded JSON document and coerces the leaf to float64.
func extractJSONPath(doc any, path string) (float64, error) {
	cur := doc
	if path != "" {
		for _, segment := range strings.Split(path, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				return 0, rtuerr.New(rtuerr.IoError, "sensor", "extractJSONPath", fmt.Sprintf("path segment %q: not an object", segment))
			}
			next, ok := m[segment]
			if !ok {
				return 0, rtuerr.New(rtuerr.IoError, "sensor", "extractJSONPath", fmt.Sprintf("missing field %q", segment))
			}
			cur = next
		}
	}
	switch v := cur.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, rtuerr.Wrap(err, rtuerr.IoError, "sensor", "extractJSONPath", "leaf value is not numeric")
		}
		return f, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, rtuerr.New(rtuerr.IoError, "sensor", "extractJSONPath", "leaf value is not a scalar")
	}
}

// calculatedDriver evaluates a compiled formula against the live
// values of referenced sensors.
type calculatedDriver struct {
	formula  *Formula
	inputs   []int64
	resolver InputResolver
}

func newCalculatedDriver(cfg CalculatedConfig, resolver InputResolver) (*calculatedDriver, error) {
	formula, err := CompileFormula(cfg.Formula)
	if err != nil {
		return nil, err
	}
	return &calculatedDriver{formula: formula, inputs: cfg.InputSensors, resolver: resolver}, nil
}

func (d *calculatedDriver) read(ctx context.Context) (rawSample, error) {
	values := make([]float64, len(d.inputs))
	for i, modID := range d.inputs {
		v, ok := d.resolver.ValueOf(modID)
		if !ok {
			return rawSample{connected: false}, rtuerr.New(rtuerr.NotFound, "sensor", "calculatedDriver.read", fmt.Sprintf("input sensor module %d has no value", modID))
		}
		values[i] = v
	}
	result, err := d.formula.Eval(values)
	if err != nil {
		return rawSample{}, err
	}
	return rawSample{value: result, connected: true}, nil
}

// staticDriver always returns its configured constant. When Writable
// is set, the value can be updated externally (e.g. by an operator
// command), handled by the owning Instance via SetStaticValue.
type staticDriver struct {
	cfg StaticConfig
}

func (d *staticDriver) read(ctx context.Context) (rawSample, error) {
	return rawSample{value: d.cfg.Value, connected: true}, nil
}

func (d *staticDriver) setValue(v float64) error {
	if !d.cfg.Writable {
		return rtuerr.New(rtuerr.NotSupported, "sensor", "staticDriver.setValue", "sensor is not writable")
	}
	d.cfg.Value = v
	return nil
}
