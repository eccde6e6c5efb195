package traffic

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the typed response of one traffic endpoint
type Payload interface {
	Metric() Metric
}

// Point is one bucket of a views or clones time series
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
	Uniques   int       `json:"uniques"`
}

// ViewsPayload is the response of the traffic/views endpoint
type ViewsPayload struct {
	Count   int     `json:"count"`
	Uniques int     `json:"uniques"`
	Views   []Point `json:"views"`
}

// Metric implements Payload
func (p *ViewsPayload) Metric() Metric { return MetricViews }

// ClonesPayload is the response of the traffic/clones endpoint
type ClonesPayload struct {
	Count   int     `json:"count"`
	Uniques int     `json:"uniques"`
	Clones  []Point `json:"clones"`
}

// Metric implements Payload
func (p *ClonesPayload) Metric() Metric { return MetricClones }

// Referrer is one entry of the popular referrers list
type Referrer struct {
	Referrer string `json:"referrer"`
	Count    int    `json:"count"`
	Uniques  int    `json:"uniques"`
}

// ReferrersPayload is the response of the traffic/popular/referrers endpoint
type ReferrersPayload []Referrer

// Metric implements Payload
func (p ReferrersPayload) Metric() Metric { return MetricReferrers }

// Path is one entry of the popular paths list
type Path struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Count   int    `json:"count"`
	Uniques int    `json:"uniques"`
}

// PathsPayload is the response of the traffic/popular/paths endpoint
type PathsPayload []Path

// Metric implements Payload
func (p PathsPayload) Metric() Metric { return MetricPaths }

// IsEmpty reports whether p carries no data. A nil interface, a nil pointer and an
// empty list are all empty.
func IsEmpty(p Payload) bool {
	switch v := p.(type) {
	case nil:
		return true
	case *ViewsPayload:
		return v == nil || (v.Count == 0 && v.Uniques == 0 && len(v.Views) == 0)
	case *ClonesPayload:
		return v == nil || (v.Count == 0 && v.Uniques == 0 && len(v.Clones) == 0)
	case ReferrersPayload:
		return len(v) == 0
	case PathsPayload:
		return len(v) == 0
	default:
		return false
	}
}

// DecodePayload decodes the JSON form of a payload for the given metric
func DecodePayload(m Metric, data []byte) (Payload, error) {
	switch m {
	case MetricViews:
		var p ViewsPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", m, err)
		}
		return &p, nil
	case MetricClones:
		var p ClonesPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", m, err)
		}
		return &p, nil
	case MetricReferrers:
		var p ReferrersPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", m, err)
		}
		return p, nil
	case MetricPaths:
		var p PathsPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", m, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, string(m))
	}
}
