// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import "time"

// AnomalyKind is the rule that produced an Anomaly Event.
type AnomalyKind string

const (
	KindMinViolation    AnomalyKind = "MinViolation"
	KindMaxViolation    AnomalyKind = "MaxViolation"
	KindDeltaSpike      AnomalyKind = "DeltaSpike"
	KindNoData          AnomalyKind = "NoData"
	KindDataRestored    AnomalyKind = "DataRestored"
	KindLimitsRestored  AnomalyKind = "LimitsRestored"
	KindQualityDegraded AnomalyKind = "QualityDegraded"
	KindQualityBad      AnomalyKind = "QualityBad"
)

// Severity of an Anomaly Event.
type Severity string

const (
	SeverityWarning  Severity = "Warning"
	SeverityCritical Severity = "Critical"
)

// AnomalyEvent is one state transition on one channel.
type AnomalyEvent struct {
	ID           string
	Timestamp    time.Time
	ExperimentID string
	ChannelIndex int
	Kind         AnomalyKind
	Severity     Severity
	Value        float64
	Threshold    float64
	Delta        float64
	Message      string
	Acknowledged bool
	EndTime      *time.Time
}

// IsEntering reports whether kind opens an anomaly state (as opposed to
// closing one). Every entering event must eventually be matched by a
// restoring event iff the channel returns to nominal.
func (k AnomalyKind) IsEntering() bool {
	switch k {
	case KindMinViolation, KindMaxViolation, KindDeltaSpike, KindNoData, KindQualityDegraded, KindQualityBad:
		return true
	default:
		return false
	}
}
