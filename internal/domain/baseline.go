package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// BaselineType names one behavioral dimension
type BaselineType string

const (
	BaselineLocation      BaselineType = "location"
	BaselineTime          BaselineType = "time"
	BaselineAccessPattern BaselineType = "access_pattern"
)

// AllBaselineTypes lists the types in recalculation order.
var AllBaselineTypes = []BaselineType{BaselineLocation, BaselineTime, BaselineAccessPattern}

// ParseBaselineType validates a raw type name.
func ParseBaselineType(raw string) (BaselineType, error) {
	switch t := BaselineType(raw); t {
	case BaselineLocation, BaselineTime, BaselineAccessPattern:
		return t, nil
	}
	return "", ErrInvalidBaselineType.WithDetail("%q (expected location, time or access_pattern)", raw)
}

// Baseline profile layout version. Bump when a profile struct changes shape
// and teach DecodeProfile how to read the previous version.
const ProfileVersion = 1

const (
	MaxTrackedLocations = 10
	CommonHoursCount    = 3
)

// BehaviorBaseline is one stored (user, type) profile
type BehaviorBaseline struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"userId"`
	Type         BaselineType    `json:"baselineType"`
	Data         json.RawMessage `json:"baselineData"`
	CalculatedAt time.Time       `json:"calculatedAt"`
	LastUpdated  time.Time       `json:"lastUpdated"`
}

// Place is a best-effort geographic label for an address
type Place struct {
	City      string  `json:"city,omitempty"`
	Region    string  `json:"region,omitempty"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Label renders the place for humans.
func (p *Place) Label() string {
	if p == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, s := range []string{p.City, p.Region, p.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// LocationEntry is one known source address
type LocationEntry struct {
	IPAddress  string `json:"ipAddress"`
	LoginCount int    `json:"loginCount"`
	Place      *Place `json:"place,omitempty"`
	Location   string `json:"location,omitempty"`
}

// LocationProfile is the location baseline payload
type LocationProfile struct {
	Version         int             `json:"version"`
	WindowDays      int             `json:"windowDays"`
	Locations       []LocationEntry `json:"locations"`
	TotalLogins     int             `json:"totalLogins"`
	UniqueLocations int             `json:"uniqueLocations"`
	Message         string          `json:"message,omitempty"`
}

// KnowsAddress reports whether ip is among the tracked locations.
func (p *LocationProfile) KnowsAddress(ip string) bool {
	for _, l := range p.Locations {
		if l.IPAddress == ip {
			return true
		}
	}
	return false
}

// Addresses lists the tracked source addresses.
func (p *LocationProfile) Addresses() []string {
	out := make([]string, 0, len(p.Locations))
	for _, l := range p.Locations {
		out = append(out, l.IPAddress)
	}
	return out
}

// HourCount is the login count for one hour of day
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// TimeProfile is the hour-of-day baseline payload
type TimeProfile struct {
	Version            int         `json:"version"`
	WindowDays         int         `json:"windowDays"`
	Timezone           string      `json:"timezone"`
	HourlyDistribution []HourCount `json:"hourlyDistribution"`
	CommonHours        []int       `json:"commonHours"`
	AverageLoginHour   *int        `json:"averageLoginHour"`
	TotalLogins        int         `json:"totalLogins"`
}

// NewTimeProfile derives common hours and the weighted average hour from a
// per-hour distribution already ordered by count descending.
func NewTimeProfile(dist []HourCount, windowDays int, timezone string) TimeProfile {
	p := TimeProfile{
		Version:            ProfileVersion,
		WindowDays:         windowDays,
		Timezone:           timezone,
		HourlyDistribution: dist,
		CommonHours:        []int{},
	}
	if p.HourlyDistribution == nil {
		p.HourlyDistribution = []HourCount{}
	}
	sort.SliceStable(p.HourlyDistribution, func(i, j int) bool {
		return p.HourlyDistribution[i].Count > p.HourlyDistribution[j].Count
	})

	var weighted int
	for i, hc := range p.HourlyDistribution {
		p.TotalLogins += hc.Count
		weighted += hc.Hour * hc.Count
		if i < CommonHoursCount {
			p.CommonHours = append(p.CommonHours, hc.Hour)
		}
	}
	if p.TotalLogins > 0 {
		avg := int(math.Round(float64(weighted) / float64(p.TotalLogins)))
		p.AverageLoginHour = &avg
	}
	return p
}

// IsCommonHour reports whether hour is one of the learned common hours.
func (p *TimeProfile) IsCommonHour(hour int) bool {
	for _, h := range p.CommonHours {
		if h == hour {
			return true
		}
	}
	return false
}

// DistanceToCommon returns the circular distance in hours from hour to the
// nearest common hour, or -1 when there are none.
func (p *TimeProfile) DistanceToCommon(hour int) int {
	if len(p.CommonHours) == 0 {
		return -1
	}
	min := 24
	for _, h := range p.CommonHours {
		d := hour - h
		if d < 0 {
			d = -d
		}
		if d > 12 {
			d = 24 - d
		}
		if d < min {
			min = d
		}
	}
	return min
}

// ActionCount is the number of times an action code was recorded
type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// AccessPatternProfile is the action-frequency baseline payload
type AccessPatternProfile struct {
	Version       int           `json:"version"`
	WindowDays    int           `json:"windowDays"`
	Actions       []ActionCount `json:"actions"`
	TotalActions  int           `json:"totalActions"`
	UniqueActions int           `json:"uniqueActions"`
}

// CountFor returns how often action was observed.
func (p *AccessPatternProfile) CountFor(action string) int {
	for _, a := range p.Actions {
		if a.Action == action {
			return a.Count
		}
	}
	return 0
}

// ActionNames lists the observed action codes.
func (p *AccessPatternProfile) ActionNames() []string {
	out := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		out = append(out, a.Action)
	}
	return out
}

type profileHeader struct {
	Version int `json:"version"`
}

// DecodeProfile unmarshals stored baseline data into the typed profile for
// its baseline type. Unknown versions are rejected rather than guessed.
func DecodeProfile(b *BehaviorBaseline, out interface{}) error {
	var hdr profileHeader
	if err := json.Unmarshal(b.Data, &hdr); err != nil {
		return fmt.Errorf("failed to decode %s baseline header: %w", b.Type, err)
	}
	if hdr.Version != ProfileVersion {
		return ErrUnknownProfile.WithDetail("%s baseline version %d", b.Type, hdr.Version)
	}
	if err := json.Unmarshal(b.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s baseline: %w", b.Type, err)
	}
	return nil
}

// RecalculationError records one failed (user, type) recomputation
type RecalculationError struct {
	UserID       int64        `json:"userId"`
	Email        string       `json:"email,omitempty"`
	BaselineType BaselineType `json:"baselineType"`
	Error        string       `json:"error"`
}

// RecalculationSummary is the outcome of a full sweep
type RecalculationSummary struct {
	RunID        string               `json:"runId"`
	TotalUsers   int                  `json:"totalUsers"`
	SuccessCount int                  `json:"successCount"`
	ErrorCount   int                  `json:"errorCount"`
	Errors       []RecalculationError `json:"errors"`
	StartedAt    time.Time            `json:"startedAt"`
	FinishedAt   time.Time            `json:"finishedAt"`
}
