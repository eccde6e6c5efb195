package traffic

import (
	"fmt"
	"time"
)

// DateLayout is the layout of record and snapshot dates
const DateLayout = "2006-01-02"

// NoTopEntry is the name reported as top referrer/path when a list is empty
const NoTopEntry = "none"

// CountSummary holds the scalar fields of a views or clones payload
type CountSummary struct {
	Count   int `json:"count"`
	Uniques int `json:"uniques"`
}

// ReferrerSummary holds the scalar fields reduced from a referrers payload
type ReferrerSummary struct {
	TopReferrer        string `json:"top_referrer"`
	TopReferrerCount   int    `json:"top_referrer_count"`
	TopReferrerUniques int    `json:"top_referrer_uniques"`
	TotalCount         int    `json:"total_referrer_count"`
	TotalUniques       int    `json:"total_referrer_uniques"`
	Distinct           int    `json:"distinct_referrers"`
}

// PathSummary holds the scalar fields reduced from a paths payload
type PathSummary struct {
	TopPath        string `json:"top_path"`
	TopPathCount   int    `json:"top_path_count"`
	TopPathUniques int    `json:"top_path_uniques"`
	TotalCount     int    `json:"total_path_count"`
	TotalUniques   int    `json:"total_path_uniques"`
	Distinct       int    `json:"distinct_paths"`
	ReadmeViews    int    `json:"readme_views"`
	ReadmeUniques  int    `json:"readme_uniques"`
}

// DailyRecord is one summary row keyed by (Date, Repository).
// Nil sections are not present and are never written over stored values.
type DailyRecord struct {
	Date       string           `json:"date"`
	Repository string           `json:"repository"`
	Views      *CountSummary    `json:"views,omitempty"`
	Clones     *CountSummary    `json:"clones,omitempty"`
	Referrers  *ReferrerSummary `json:"referrers,omitempty"`
	Paths      *PathSummary     `json:"paths,omitempty"`
}

// NewDailyRecord creates an empty record for the repository on the UTC date of t
func NewDailyRecord(repository string, t time.Time) *DailyRecord {
	return &DailyRecord{
		Date:       t.UTC().Format(DateLayout),
		Repository: repository,
	}
}

// Key returns the (date, repository) natural key
func (r *DailyRecord) Key() string {
	return r.Date + "/" + r.Repository
}

// Less orders records by date, then repository
func (r *DailyRecord) Less(other *DailyRecord) bool {
	if r.Date != other.Date {
		return r.Date < other.Date
	}
	return r.Repository < other.Repository
}

// Merge copies every section present in other into r, column-wise.
// Date and Repository are left unchanged.
func (r *DailyRecord) Merge(other *DailyRecord) {
	if other == nil {
		return
	}
	if other.Views != nil {
		v := *other.Views
		r.Views = &v
	}
	if other.Clones != nil {
		c := *other.Clones
		r.Clones = &c
	}
	if other.Referrers != nil {
		ref := *other.Referrers
		r.Referrers = &ref
	}
	if other.Paths != nil {
		p := *other.Paths
		r.Paths = &p
	}
}

// Has reports whether the section for m is present
func (r *DailyRecord) Has(m Metric) bool {
	switch m {
	case MetricViews:
		return r.Views != nil
	case MetricClones:
		return r.Clones != nil
	case MetricReferrers:
		return r.Referrers != nil
	case MetricPaths:
		return r.Paths != nil
	default:
		return false
	}
}

// Validate checks the key fields
func (r *DailyRecord) Validate() error {
	if r.Repository == "" {
		return fmt.Errorf("repository is required")
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", r.Date, err)
	}
	return nil
}
