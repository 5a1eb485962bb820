// Package request resolves stored URL templates into concrete remote calls.
// Templates live in the call_templates audit table; compatibility with the
// call type is validated once at startup so per-call resolution cannot
// produce a malformed URL mid-run.
package request

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/excessus1/openweather-pub/internal/timekey"
	"github.com/excessus1/openweather-pub/internal/weather"
)

// ErrTemplate marks a stored template that cannot serve its call type. It
// is a configuration error: the run aborts before any remote call.
var ErrTemplate = errors.New("request: template incompatible with call type")

// Builder substitutes one location and credential into a validated
// template. Build is infallible once New has accepted the template.
type Builder struct {
	template string
	call     weather.CallType
	lat      float64
	lon      float64
	apiKey   string
	units    string
}

// New validates the template's placeholders against the call type. The
// template must carry {lat}, {lon}, {API_key} and the call type's time
// placeholder ({time} for hourly, {date} for daily), and nothing else in
// braces.
func New(call weather.CallType, template string, lat, lon float64, apiKey, units string) (Builder, error) {
	b := Builder{
		template: template,
		call:     call,
		lat:      lat,
		lon:      lon,
		apiKey:   apiKey,
		units:    units,
	}

	required := []string{"{lat}", "{lon}", "{API_key}", b.timePlaceholder()}
	for _, p := range required {
		if !strings.Contains(template, p) {
			return Builder{}, fmt.Errorf("%w: missing %s", ErrTemplate, p)
		}
	}
	if probe := b.substitute(timekey.Key(0)); strings.ContainsAny(probe, "{}") {
		return Builder{}, fmt.Errorf("%w: unresolved placeholder in %q", ErrTemplate, template)
	}
	return b, nil
}

// Build resolves the template for one time key and appends the unit system
// as a query parameter.
func (b Builder) Build(k timekey.Key) string {
	u := b.substitute(k)
	if b.units == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "units=" + b.units
}

// Redact masks the credential for audit rows and logs.
func (b Builder) Redact(u string) string {
	if b.apiKey == "" {
		return u
	}
	return strings.ReplaceAll(u, b.apiKey, "REDACTED")
}

func (b Builder) substitute(k timekey.Key) string {
	timeValue := strconv.FormatInt(int64(k), 10)
	if b.call.Kind == weather.KindDaily {
		timeValue = k.Date()
	}
	r := strings.NewReplacer(
		"{lat}", strconv.FormatFloat(b.lat, 'f', -1, 64),
		"{lon}", strconv.FormatFloat(b.lon, 'f', -1, 64),
		b.timePlaceholder(), timeValue,
		"{API_key}", b.apiKey,
	)
	return r.Replace(b.template)
}

func (b Builder) timePlaceholder() string {
	if b.call.Kind == weather.KindDaily {
		return "{date}"
	}
	return "{time}"
}
