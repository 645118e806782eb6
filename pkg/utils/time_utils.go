// utils/timeutil.go
package utils

import (
	"sync"
	"time"
)

// China Standard Time (+08:00); daily earn caps roll over at local midnight.
var cnLoc = func() *time.Location {
	if loc, err := time.LoadLocation("Asia/Shanghai"); err == nil {
		return loc
	}
	return time.FixedZone("CST", 8*3600)
}()

// Clock is the time source for every service that stamps or compares timestamps.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FakeClock is a settable clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock { return &FakeClock{now: t} }

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Use explicit "seconds" variant for DB storage
func UnixSeconds(t time.Time) int64 { return t.Unix() }

// StartOfDayCN returns local midnight (CST) of the day containing t, in unix seconds.
func StartOfDayCN(t time.Time) int64 {
	lt := t.In(cnLoc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, cnLoc).Unix()
}

// Convert an epoch value in seconds to CST. Returns zero time if t<=0.
func FromUnixSecondsCN(t int64) time.Time {
	if t <= 0 {
		return time.Time{}
	}
	return time.Unix(t, 0).In(cnLoc)
}

func FormatRFC3339CN(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(cnLoc).Format(time.RFC3339)
}

// OrderNoTimestamp renders t as yyyyMMddHHmmss in CST.
func OrderNoTimestamp(t time.Time) string {
	return t.In(cnLoc).Format("20060102150405")
}

// FormatUnixCN renders unix seconds as RFC3339 in CST; zero renders as "".
func FormatUnixCN(sec int64) string {
	return FormatRFC3339CN(FromUnixSecondsCN(sec))
}
