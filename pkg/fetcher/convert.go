package fetcher

import (
	"fmt"

	"github.com/google/go-github/v62/github"
	"github.com/platinummonkey/traffic-stats/pkg/traffic"
)

func convertPoints(data []*github.TrafficData) ([]traffic.Point, error) {
	points := make([]traffic.Point, 0, len(data))
	for _, d := range data {
		if d == nil {
			continue
		}
		if d.GetCount() < 0 || d.GetUniques() < 0 {
			return nil, fmt.Errorf("%w: negative count at %s", ErrMalformedPayload, d.GetTimestamp().Format("2006-01-02"))
		}
		points = append(points, traffic.Point{
			Timestamp: d.GetTimestamp().Time.UTC(),
			Count:     d.GetCount(),
			Uniques:   d.GetUniques(),
		})
	}
	return points, nil
}

func convertViews(v *github.TrafficViews) (traffic.Payload, error) {
	if v == nil {
		return nil, nil
	}
	if v.GetCount() < 0 || v.GetUniques() < 0 {
		return nil, fmt.Errorf("%w: negative views total", ErrMalformedPayload)
	}
	points, err := convertPoints(v.Views)
	if err != nil {
		return nil, err
	}
	return &traffic.ViewsPayload{Count: v.GetCount(), Uniques: v.GetUniques(), Views: points}, nil
}

func convertClones(c *github.TrafficClones) (traffic.Payload, error) {
	if c == nil {
		return nil, nil
	}
	if c.GetCount() < 0 || c.GetUniques() < 0 {
		return nil, fmt.Errorf("%w: negative clones total", ErrMalformedPayload)
	}
	points, err := convertPoints(c.Clones)
	if err != nil {
		return nil, err
	}
	return &traffic.ClonesPayload{Count: c.GetCount(), Uniques: c.GetUniques(), Clones: points}, nil
}

func convertReferrers(refs []*github.TrafficReferrer) (traffic.Payload, error) {
	payload := make(traffic.ReferrersPayload, 0, len(refs))
	for _, r := range refs {
		if r == nil {
			continue
		}
		if r.GetCount() < 0 || r.GetUniques() < 0 {
			return nil, fmt.Errorf("%w: negative count for referrer %q", ErrMalformedPayload, r.GetReferrer())
		}
		payload = append(payload, traffic.Referrer{
			Referrer: r.GetReferrer(),
			Count:    r.GetCount(),
			Uniques:  r.GetUniques(),
		})
	}
	return payload, nil
}

func convertPaths(paths []*github.TrafficPath) (traffic.Payload, error) {
	payload := make(traffic.PathsPayload, 0, len(paths))
	for _, p := range paths {
		if p == nil {
			continue
		}
		if p.GetCount() < 0 || p.GetUniques() < 0 {
			return nil, fmt.Errorf("%w: negative count for path %q", ErrMalformedPayload, p.GetPath())
		}
		payload = append(payload, traffic.Path{
			Path:    p.GetPath(),
			Title:   p.GetTitle(),
			Count:   p.GetCount(),
			Uniques: p.GetUniques(),
		})
	}
	return payload, nil
}
