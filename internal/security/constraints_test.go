package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

func TestCheckTime_InclusiveHourBoundaries(t *testing.T) {
	tc := &sec.TimeConstraints{
		AllowedHours: []sec.HourRange{{Start: "09:00", End: "17:00"}},
		Timezone:     "UTC",
	}

	cases := []struct {
		name    string
		clock   string
		allowed bool
	}{
		{"start boundary", "09:00", true},
		{"end boundary", "17:00", true},
		{"minute before start", "08:59", false},
		{"minute after end", "17:01", false},
		{"midday", "12:30", true},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			now, err := time.Parse("2006-01-02 15:04", "2026-03-10 "+tt.clock)
			require.NoError(t, err)

			v := CheckTime(tc, now.UTC(), UsageSnapshot{}, time.Time{})
			if tt.allowed {
				assert.Nil(t, v)
			} else {
				require.NotNil(t, v)
				assert.Equal(t, sec.ConstraintTime, v.Category)
			}
		})
	}
}

func TestCheckTime_BusinessHoursInTimezone(t *testing.T) {
	tc := &sec.TimeConstraints{
		AllowedDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
		AllowedHours: []sec.HourRange{{Start: "08:00", End: "18:00"}},
		Timezone:     "America/New_York",
	}

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Tuesday 10:00 local
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, loc)
	assert.Nil(t, CheckTime(tc, now, UsageSnapshot{}, time.Time{}))

	// Same instant expressed in UTC still passes, conversion happens inside.
	assert.Nil(t, CheckTime(tc, now.UTC(), UsageSnapshot{}, time.Time{}))

	// Saturday local
	saturday := time.Date(2026, 3, 14, 10, 0, 0, 0, loc)
	v := CheckTime(tc, saturday, UsageSnapshot{}, time.Time{})
	require.NotNil(t, v)

	// Tuesday 19:00 local, after hours
	evening := time.Date(2026, 3, 10, 19, 0, 0, 0, loc)
	v = CheckTime(tc, evening, UsageSnapshot{}, time.Time{})
	require.NotNil(t, v)
}

func TestCheckTime_UnknownTimezone(t *testing.T) {
	tc := &sec.TimeConstraints{Timezone: "Mars/Olympus_Mons"}
	v := CheckTime(tc, time.Now(), UsageSnapshot{}, time.Time{})
	require.NotNil(t, v)
	assert.Equal(t, sec.ConstraintTime, v.Category)
}

func TestCheckTime_HourRangeAcrossMidnight(t *testing.T) {
	tc := &sec.TimeConstraints{
		AllowedHours: []sec.HourRange{{Start: "22:00", End: "02:00"}},
		Timezone:     "UTC",
	}

	late := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	assert.Nil(t, CheckTime(tc, late, UsageSnapshot{}, time.Time{}))

	early := time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)
	assert.Nil(t, CheckTime(tc, early, UsageSnapshot{}, time.Time{}))

	midday := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.NotNil(t, CheckTime(tc, midday, UsageSnapshot{}, time.Time{}))
}

func TestCheckTime_YearlyBlackoutRecurrence(t *testing.T) {
	tc := &sec.TimeConstraints{
		Timezone: "UTC",
		BlackoutPeriods: []sec.BlackoutPeriod{
			{
				Start:      time.Date(2024, 12, 24, 0, 0, 0, 0, time.UTC),
				End:        time.Date(2024, 12, 26, 23, 59, 0, 0, time.UTC),
				Recurrence: sec.RecurrenceYearly,
				Label:      "holiday freeze",
			},
		},
	}

	// Two years after the configured period, same calendar dates.
	inside := time.Date(2026, 12, 25, 12, 0, 0, 0, time.UTC)
	v := CheckTime(tc, inside, UsageSnapshot{}, time.Time{})
	require.NotNil(t, v)
	assert.Contains(t, v.Reason, "holiday freeze")

	outside := time.Date(2026, 12, 27, 12, 0, 0, 0, time.UTC)
	assert.Nil(t, CheckTime(tc, outside, UsageSnapshot{}, time.Time{}))
}

func TestCheckTime_YearlyBlackoutSpanningYearBoundary(t *testing.T) {
	tc := &sec.TimeConstraints{
		Timezone: "UTC",
		BlackoutPeriods: []sec.BlackoutPeriod{
			{
				Start:      time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC),
				End:        time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
				Recurrence: sec.RecurrenceYearly,
			},
		},
	}

	// January 1st falls inside the projection anchored in the prior year.
	newYear := time.Date(2027, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.NotNil(t, CheckTime(tc, newYear, UsageSnapshot{}, time.Time{}))

	assert.Nil(t, CheckTime(tc, time.Date(2027, 1, 5, 10, 0, 0, 0, time.UTC), UsageSnapshot{}, time.Time{}))
}

func TestCheckTime_WeeklyBlackout(t *testing.T) {
	// Sunday 00:00 to Sunday 06:00 maintenance window.
	tc := &sec.TimeConstraints{
		Timezone: "UTC",
		BlackoutPeriods: []sec.BlackoutPeriod{
			{
				Start:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), // a Sunday
				End:        time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),
				Recurrence: sec.RecurrenceWeekly,
			},
		},
	}

	laterSunday := time.Date(2026, 3, 22, 3, 0, 0, 0, time.UTC)
	assert.NotNil(t, CheckTime(tc, laterSunday, UsageSnapshot{}, time.Time{}))

	monday := time.Date(2026, 3, 23, 3, 0, 0, 0, time.UTC)
	assert.Nil(t, CheckTime(tc, monday, UsageSnapshot{}, time.Time{}))
}

func TestCheckTime_ValidityWindowAndCooldown(t *testing.T) {
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	tc := &sec.TimeConstraints{
		ValidFrom:  &from,
		ValidUntil: &until,
		Cooldown:   10 * time.Minute,
	}

	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	assert.NotNil(t, CheckTime(tc, from.Add(-time.Second), UsageSnapshot{}, time.Time{}))
	assert.NotNil(t, CheckTime(tc, until.Add(time.Second), UsageSnapshot{}, time.Time{}))

	recent := UsageSnapshot{LastGrant: now.Add(-5 * time.Minute)}
	assert.NotNil(t, CheckTime(tc, now, recent, time.Time{}))

	cooled := UsageSnapshot{LastGrant: now.Add(-15 * time.Minute)}
	assert.Nil(t, CheckTime(tc, now, cooled, time.Time{}))
}

func TestCheckLocation(t *testing.T) {
	lc := &sec.LocationConstraints{
		AllowedCountries: []string{"EG", "DE"},
		BlockedRegions:   []string{"restricted-zone"},
	}

	assert.Nil(t, CheckLocation(lc, &sec.GeoLocation{Country: "EG", Region: "cairo"}, false))

	v := CheckLocation(lc, &sec.GeoLocation{Country: "US"}, false)
	require.NotNil(t, v)
	assert.Equal(t, sec.ConstraintLocation, v.Category)

	v = CheckLocation(lc, &sec.GeoLocation{Country: "DE", Region: "restricted-zone"}, false)
	require.NotNil(t, v)
}

func TestCheckLocation_MissingContext(t *testing.T) {
	lc := &sec.LocationConstraints{AllowedCountries: []string{"EG"}}

	v := CheckLocation(lc, nil, false)
	require.NotNil(t, v)
	assert.Equal(t, sec.ReasonContextMissing, v.Reason)
}

func TestCheckLocation_Geofence(t *testing.T) {
	// 5 km around the Cairo conference venue.
	lc := &sec.LocationConstraints{
		Geofence: &sec.Geofence{Latitude: 30.0444, Longitude: 31.2357, RadiusKm: 5},
	}

	nearby := &sec.GeoLocation{Country: "EG", Latitude: 30.05, Longitude: 31.24}
	assert.Nil(t, CheckLocation(lc, nearby, false))

	// Alexandria is roughly 180 km away.
	alexandria := &sec.GeoLocation{Country: "EG", Latitude: 31.2001, Longitude: 29.9187}
	v := CheckLocation(lc, alexandria, false)
	require.NotNil(t, v)
	assert.Contains(t, v.Reason, "outside geofence")
}

func TestCheckLocation_VPNRequired(t *testing.T) {
	lc := &sec.LocationConstraints{RequireVPN: true}
	loc := &sec.GeoLocation{Country: "EG"}

	assert.NotNil(t, CheckLocation(lc, loc, false))
	assert.Nil(t, CheckLocation(lc, loc, true))
}

func TestCheckDevice(t *testing.T) {
	dc := &sec.DeviceConstraints{
		AllowedDeviceTypes:    []string{"desktop", "laptop"},
		RequireTrustedDevice:  true,
		MaxConcurrentSessions: 2,
	}

	trusted := &sec.DeviceInfo{Type: "laptop", Trusted: true}
	assert.Nil(t, CheckDevice(dc, trusted, 1))

	v := CheckDevice(dc, &sec.DeviceInfo{Type: "mobile", Trusted: true}, 1)
	require.NotNil(t, v)

	v = CheckDevice(dc, &sec.DeviceInfo{Type: "laptop", Trusted: false}, 1)
	require.NotNil(t, v)
	assert.Contains(t, v.Reason, "trusted device")

	v = CheckDevice(dc, trusted, 3)
	require.NotNil(t, v)
	assert.Contains(t, v.Reason, "concurrent session")

	v = CheckDevice(dc, nil, 1)
	require.NotNil(t, v)
	assert.Equal(t, sec.ReasonContextMissing, v.Reason)
}

func TestCheckAccessLimits(t *testing.T) {
	al := &sec.AccessLimits{
		MaxRequestsPerHour: 3,
		MaxRequestsPerDay:  10,
		MaxDataExportMB:    100,
	}

	assert.Nil(t, CheckAccessLimits(al, UsageSnapshot{HourCount: 2, DayCount: 5}, 0))

	// The pending request itself counts, so 3 prior grants fill the window.
	v := CheckAccessLimits(al, UsageSnapshot{HourCount: 3, DayCount: 5}, 0)
	require.NotNil(t, v)
	assert.Contains(t, v.Reason, "hourly")

	v = CheckAccessLimits(al, UsageSnapshot{HourCount: 0, DayCount: 10}, 0)
	require.NotNil(t, v)
	assert.Contains(t, v.Reason, "daily request")

	v = CheckAccessLimits(al, UsageSnapshot{ExportMBDay: 80}, 30)
	require.NotNil(t, v)
	assert.Contains(t, v.Reason, "export")

	assert.Nil(t, CheckAccessLimits(al, UsageSnapshot{ExportMBDay: 80}, 20))
}

func TestNilConstraintsAlwaysPass(t *testing.T) {
	assert.Nil(t, CheckTime(nil, time.Now(), UsageSnapshot{}, time.Time{}))
	assert.Nil(t, CheckLocation(nil, nil, false))
	assert.Nil(t, CheckDevice(nil, nil, 99))
	assert.Nil(t, CheckAccessLimits(nil, UsageSnapshot{HourCount: 1000}, 0))
}
