package ingestion

import (
	"time"
)

// Options tune a single ingestion run.
type Options struct {
	// Latest ignores stored history and fetches the default one-hour window.
	Latest bool
	// Start and End override the computed window bounds.
	Start *time.Time
	End   *time.Time
	// TaskID is recorded on activity entries; defaults to the run id.
	TaskID string
}

// Window is the half-open fetch range [Start, End) in station local time.
type Window struct {
	Start time.Time
	End   time.Time
}

// nextHour is the top of the hour after now, on the wall clock of loc.
func nextHour(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	top := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
	return top.Add(time.Hour)
}

// ResolveWindow picks the fetch range. Start is the latest stored time,
// else the station's first collection date, else one hour before End.
func ResolveWindow(now time.Time, loc *time.Location, latestStored, firstCollection *time.Time, opts Options) Window {
	if loc == nil {
		loc = time.UTC
	}
	end := nextHour(now, loc)
	start := end.Add(-time.Hour)

	if !opts.Latest {
		switch {
		case latestStored != nil:
			start = *latestStored
		case firstCollection != nil:
			start = *firstCollection
		}
	}

	if start.Equal(end) {
		end = end.Add(time.Hour)
	}

	if opts.Start != nil {
		start = *opts.Start
	}
	if opts.End != nil {
		end = *opts.End
	}

	return Window{Start: start.In(loc), End: end.In(loc)}
}
