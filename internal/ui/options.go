package ui

import "time"

// Options tunes presentation. The zero value renders comfortable entries
// without time bands.
type Options struct {
	Compact   bool // one line per entry
	TimeBands bool // group entries under "Just Now", "Today", ...

	Now func() time.Time // clock for time bands and ages
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
