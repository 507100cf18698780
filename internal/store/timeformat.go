// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import "time"

// timeLayout is the sortable, culture-invariant, zone-less textual
// timestamp form: "YYYY-MM-DD HH:MM:SS.fffffff".
const timeLayout = "2006-01-02 15:04:05.0000000"

// formatTime renders t in the Store's on-disk timestamp form. Callers
// must already agree on what "local" means; the Store never attaches a
// zone suffix, since every timestamp fixes on monotonic wall-clock local time.
func formatTime(t time.Time) string {
	return t.Format(timeLayout)
}

// parseTime is the inverse of formatTime.
func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.Local)
}
