// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

// Group tags a channel with the post (or cross-post category) it belongs to.
type Group string

const (
	GroupPostA   Group = "PostA"
	GroupPostB   Group = "PostB"
	GroupPostC   Group = "PostC"
	GroupCommon  Group = "Common"
	GroupSystem  Group = "System"
)

// PhysicalType is the measurement kind a channel represents.
type PhysicalType string

const (
	Pressure    PhysicalType = "Pressure"
	Temperature PhysicalType = "Temperature"
	Electrical  PhysicalType = "Electrical"
	Flow        PhysicalType = "Flow"
	Humidity    PhysicalType = "Humidity"
	CurrentLoop PhysicalType = "CurrentLoop"
	SystemType  PhysicalType = "System"
)

// ChannelDefinition is one immutable entry of the static channel registry.
// Indices are sparse in [0,149]; only 134 of them are populated.
type ChannelDefinition struct {
	Index       int
	Name        string
	Unit        string
	Description string
	Group       Group
	Physical    PhysicalType
	MinLimit    *float64
	MaxLimit    *float64
}
