package security

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// ConstraintViolation reports one failed constraint check. A nil return from
// a check means the constraint passed.
type ConstraintViolation struct {
	Category string
	Reason   string
}

func violation(category, format string, args ...any) *ConstraintViolation {
	return &ConstraintViolation{Category: category, Reason: fmt.Sprintf(format, args...)}
}

// UsageSnapshot is the caller's current sliding-window usage, supplied by the
// usage counters so access-limit checks never scan the audit log.
type UsageSnapshot struct {
	HourCount   int
	DayCount    int
	ExportMBDay float64
	LastGrant   time.Time
}

// CheckTime evaluates time constraints against the instant now. All
// comparisons happen in the constraint's timezone; an unloadable timezone is
// a configuration violation, not a silent UTC fallback.
func CheckTime(tc *sec.TimeConstraints, now time.Time, usage UsageSnapshot, sessionStart time.Time) *ConstraintViolation {
	if tc == nil {
		return nil
	}

	local := now
	if tc.Timezone != "" {
		loc, err := time.LoadLocation(tc.Timezone)
		if err != nil {
			return violation(sec.ConstraintTime, "unknown timezone %q", tc.Timezone)
		}
		local = now.In(loc)
	}

	if tc.ValidFrom != nil && now.Before(*tc.ValidFrom) {
		return violation(sec.ConstraintTime, "not valid before %s", tc.ValidFrom.Format(time.RFC3339))
	}
	if tc.ValidUntil != nil && now.After(*tc.ValidUntil) {
		return violation(sec.ConstraintTime, "expired at %s", tc.ValidUntil.Format(time.RFC3339))
	}

	if len(tc.AllowedDays) > 0 {
		allowed := false
		for _, d := range tc.AllowedDays {
			if local.Weekday() == d {
				allowed = true
				break
			}
		}
		if !allowed {
			return violation(sec.ConstraintTime, "access not allowed on %s", local.Weekday())
		}
	}

	if len(tc.AllowedHours) > 0 {
		minute := local.Hour()*60 + local.Minute()
		inWindow := false
		for _, hr := range tc.AllowedHours {
			start, err := parseClock(hr.Start)
			if err != nil {
				return violation(sec.ConstraintTime, "malformed hour range start %q", hr.Start)
			}
			end, err := parseClock(hr.End)
			if err != nil {
				return violation(sec.ConstraintTime, "malformed hour range end %q", hr.End)
			}
			// Both ends inclusive. Ranges crossing midnight wrap.
			if start <= end {
				if minute >= start && minute <= end {
					inWindow = true
					break
				}
			} else if minute >= start || minute <= end {
				inWindow = true
				break
			}
		}
		if !inWindow {
			return violation(sec.ConstraintTime, "outside allowed hours at %02d:%02d", local.Hour(), local.Minute())
		}
	}

	for i := range tc.BlackoutPeriods {
		bp := &tc.BlackoutPeriods[i]
		if inBlackout(bp, local) {
			label := bp.Label
			if label == "" {
				label = "blackout period"
			}
			return violation(sec.ConstraintTime, "within %s", label)
		}
	}

	if tc.MaxSessionDuration > 0 && !sessionStart.IsZero() {
		if now.Sub(sessionStart) > tc.MaxSessionDuration {
			return violation(sec.ConstraintTime, "session exceeds maximum duration of %s", tc.MaxSessionDuration)
		}
	}

	if tc.Cooldown > 0 && !usage.LastGrant.IsZero() {
		if now.Sub(usage.LastGrant) < tc.Cooldown {
			return violation(sec.ConstraintTime, "cooldown of %s not elapsed", tc.Cooldown)
		}
	}

	return nil
}

// inBlackout reports whether t falls inside the period, projecting recurring
// periods onto t's calendar. Projection for yearly periods also tries the
// prior year's start so spans crossing a year boundary still match.
func inBlackout(bp *sec.BlackoutPeriod, t time.Time) bool {
	span := bp.End.Sub(bp.Start)
	if span < 0 {
		return false
	}

	within := func(start time.Time) bool {
		return !t.Before(start) && !t.After(start.Add(span))
	}

	switch bp.Recurrence {
	case sec.RecurrenceYearly:
		for _, year := range []int{t.Year(), t.Year() - 1} {
			start := time.Date(year, bp.Start.Month(), bp.Start.Day(),
				bp.Start.Hour(), bp.Start.Minute(), bp.Start.Second(), 0, t.Location())
			if within(start) {
				return true
			}
		}
		return false
	case sec.RecurrenceMonthly:
		for _, m := range []time.Month{t.Month(), t.Month() - 1} {
			start := time.Date(t.Year(), m, bp.Start.Day(),
				bp.Start.Hour(), bp.Start.Minute(), bp.Start.Second(), 0, t.Location())
			if within(start) {
				return true
			}
		}
		return false
	case sec.RecurrenceWeekly:
		// Walk back to the most recent occurrence of the start weekday.
		daysBack := (int(t.Weekday()) - int(bp.Start.Weekday()) + 7) % 7
		anchor := t.AddDate(0, 0, -daysBack)
		start := time.Date(anchor.Year(), anchor.Month(), anchor.Day(),
			bp.Start.Hour(), bp.Start.Minute(), bp.Start.Second(), 0, t.Location())
		if start.After(t) {
			start = start.AddDate(0, 0, -7)
		}
		return within(start) || within(start.AddDate(0, 0, -7))
	default:
		return !t.Before(bp.Start) && !t.After(bp.End)
	}
}

// parseClock converts "HH:MM" to minutes since midnight
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("malformed hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed minute in %q", s)
	}
	return h*60 + m, nil
}

// CheckLocation evaluates location constraints. A location constraint with no
// resolvable session location is a context-missing violation rather than a
// pass.
func CheckLocation(lc *sec.LocationConstraints, loc *sec.GeoLocation, vpnDetected bool) *ConstraintViolation {
	if lc == nil {
		return nil
	}
	if loc == nil {
		return violation(sec.ConstraintLocation, sec.ReasonContextMissing)
	}

	for _, blocked := range lc.BlockedCountries {
		if strings.EqualFold(loc.Country, blocked) {
			return violation(sec.ConstraintLocation, "country %s is blocked", loc.Country)
		}
	}
	for _, blocked := range lc.BlockedRegions {
		if strings.EqualFold(loc.Region, blocked) {
			return violation(sec.ConstraintLocation, "region %s is blocked", loc.Region)
		}
	}

	if len(lc.AllowedCountries) > 0 {
		allowed := false
		for _, c := range lc.AllowedCountries {
			if strings.EqualFold(loc.Country, c) {
				allowed = true
				break
			}
		}
		if !allowed {
			return violation(sec.ConstraintLocation, "country %s not in allowed list", loc.Country)
		}
	}
	if len(lc.AllowedRegions) > 0 {
		allowed := false
		for _, r := range lc.AllowedRegions {
			if strings.EqualFold(loc.Region, r) {
				allowed = true
				break
			}
		}
		if !allowed {
			return violation(sec.ConstraintLocation, "region %s not in allowed list", loc.Region)
		}
	}

	if lc.RequireVPN && !vpnDetected {
		return violation(sec.ConstraintLocation, "VPN connection required")
	}

	if lc.Geofence != nil {
		if loc.Latitude == 0 && loc.Longitude == 0 {
			return violation(sec.ConstraintLocation, sec.ReasonContextMissing)
		}
		dist := haversineKm(lc.Geofence.Latitude, lc.Geofence.Longitude, loc.Latitude, loc.Longitude)
		if dist > lc.Geofence.RadiusKm {
			return violation(sec.ConstraintLocation, "outside geofence by %.1f km", dist-lc.Geofence.RadiusKm)
		}
	}

	return nil
}

// haversineKm is the great-circle distance between two points in kilometers
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// CheckDevice evaluates device constraints against the session's device and
// the user's current concurrent session count.
func CheckDevice(dc *sec.DeviceConstraints, dev *sec.DeviceInfo, concurrentSessions int) *ConstraintViolation {
	if dc == nil {
		return nil
	}
	if dev == nil {
		if len(dc.AllowedDeviceTypes) > 0 || dc.RequireTrustedDevice {
			return violation(sec.ConstraintDevice, sec.ReasonContextMissing)
		}
	} else {
		if len(dc.AllowedDeviceTypes) > 0 {
			allowed := false
			for _, t := range dc.AllowedDeviceTypes {
				if strings.EqualFold(dev.Type, t) {
					allowed = true
					break
				}
			}
			if !allowed {
				return violation(sec.ConstraintDevice, "device type %s not allowed", dev.Type)
			}
		}
		if dc.RequireTrustedDevice && !dev.Trusted {
			return violation(sec.ConstraintDevice, "trusted device required")
		}
	}

	if dc.MaxConcurrentSessions > 0 && concurrentSessions > dc.MaxConcurrentSessions {
		return violation(sec.ConstraintDevice, "concurrent session limit of %d exceeded", dc.MaxConcurrentSessions)
	}

	return nil
}

// CheckAccessLimits evaluates sliding-window usage caps. The pending request
// counts toward the windows, so a request that would become the N+1th in a
// window of N is denied.
func CheckAccessLimits(al *sec.AccessLimits, usage UsageSnapshot, exportSizeMB float64) *ConstraintViolation {
	if al == nil {
		return nil
	}

	if al.MaxRequestsPerHour > 0 && usage.HourCount+1 > al.MaxRequestsPerHour {
		return violation(sec.ConstraintAccess, "hourly request limit of %d reached", al.MaxRequestsPerHour)
	}
	if al.MaxRequestsPerDay > 0 && usage.DayCount+1 > al.MaxRequestsPerDay {
		return violation(sec.ConstraintAccess, "daily request limit of %d reached", al.MaxRequestsPerDay)
	}
	if al.MaxDataExportMB > 0 && usage.ExportMBDay+exportSizeMB > al.MaxDataExportMB {
		return violation(sec.ConstraintAccess, "daily export limit of %.0f MB reached", al.MaxDataExportMB)
	}

	return nil
}
