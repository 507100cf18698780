// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import "time"

// NoDataSentinel is the wire-protocol value meaning "channel not sampled".
const NoDataSentinel = -99.0

// NoDataTolerance is the comparison tolerance used to recognize the sentinel.
const NoDataTolerance = 0.01

// IsNoData reports whether v is within NoDataTolerance of NoDataSentinel.
// NaN and Inf are never no-data; they pass through verbatim.
func IsNoData(v float64) bool {
	d := v - NoDataSentinel
	if d < 0 {
		d = -d
	}
	return d <= NoDataTolerance
}

// Sample is one measurement of one channel at one instant.
type Sample struct {
	ChannelIndex int
	Value        float64
	Timestamp    time.Time
}

// NoData reports whether this sample carries the distinguished no-data marker.
func (s Sample) NoData() bool {
	return IsNoData(s.Value)
}

// Frame is the full 134-value payload decoded from one protocol frame,
// already remapped into registry-index order, plus pipeline bookkeeping.
type Frame struct {
	Timestamp time.Time
	Sequence  uint64
	Samples   [134]Sample
}
