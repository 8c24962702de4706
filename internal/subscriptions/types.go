package subscriptions

import "time"

// Entitlement is a user's time-boxed subscription status. ExpiresOn is a
// calendar date (midnight UTC); access lasts through the whole day.
type Entitlement struct {
	UserID    string
	Active    bool
	ExpiresOn *time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the entitlement grants access on the given day.
func (e Entitlement) IsActive(today time.Time) bool {
	if !e.Active || e.ExpiresOn == nil {
		return false
	}
	return !e.ExpiresOn.Before(DateOf(today))
}

// DaysRemaining counts whole days of access left, zero when expired.
func (e Entitlement) DaysRemaining(today time.Time) int {
	if !e.IsActive(today) {
		return 0
	}
	return int(e.ExpiresOn.Sub(DateOf(today)).Hours()/24) + 1
}

// DateOf truncates t to its calendar date in t's location, returned as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar date in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc))
}

// AddMonths adds n calendar months to date, clamping the day to the last day
// of the target month (Jan 31 + 1 month = Feb 28, or Feb 29 in leap years).
func AddMonths(date time.Time, n int) time.Time {
	y, m, d := date.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ExtendFrom computes the new expiration when adding months. The anchor is the
// later of today and the current expiration, so remaining time is never lost.
func ExtendFrom(current *time.Time, today time.Time, months int) time.Time {
	anchor := DateOf(today)
	if current != nil && current.After(anchor) {
		anchor = DateOf(*current)
	}
	return AddMonths(anchor, months)
}
