// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry provides the static, process-wide immutable table of
// the 134 analog channels the transmitter carries, and the
// fixed protocol-position to registry-index permutation used by the
// Protocol Decoder.
package registry

import (
	"fmt"
	"sync"

	"github.com/lonelywolf1981/bench-acquisition/pkg/schema"
)

var (
	once    sync.Once
	byIndex map[int]schema.ChannelDefinition
	order   [134]int
)

func f(v float64) *float64 { return &v }

// build fills the canonical table; ensureBuilt runs it once, on first use.
// There is no public constructor: the registry is a process-wide table
// that is never mutated after it is built.
func build() {
	byIndex = make(map[int]schema.ChannelDefinition, 134)

	add := func(idx int, name, unit, desc string, group schema.Group, phys schema.PhysicalType, min, max *float64) {
		byIndex[idx] = schema.ChannelDefinition{
			Index: idx, Name: name, Unit: unit, Description: desc,
			Group: group, Physical: phys, MinLimit: min, MaxLimit: max,
		}
	}

	// 0-5: bench-wide system/status channels.
	sysNames := []string{"sys_heartbeat", "sys_state", "sys_fault_code", "sys_uptime_s", "sys_mains_voltage", "sys_ambient_temp"}
	sysUnits := []string{"bool", "enum", "code", "s", "V", "degC"}
	for i, n := range sysNames {
		add(i, n, sysUnits[i], "System status channel "+n, schema.GroupSystem, schema.SystemType, nil, nil)
	}

	// 6-15: bench-wide common instrumentation: pressure, flow, humidity.
	for i := 6; i <= 9; i++ {
		n := fmt.Sprintf("common_pressure_%02d", i-5)
		add(i, n, "bar", "Common line pressure sensor "+n, schema.GroupCommon, schema.Pressure, f(0), f(40))
	}
	for i := 10; i <= 12; i++ {
		n := fmt.Sprintf("common_flow_%02d", i-9)
		add(i, n, "L/min", "Common flow sensor "+n, schema.GroupCommon, schema.Flow, f(0), f(200))
	}
	for i := 13; i <= 15; i++ {
		n := fmt.Sprintf("common_humidity_%02d", i-12)
		add(i, n, "%RH", "Common humidity sensor "+n, schema.GroupCommon, schema.Humidity, f(0), f(100))
	}

	// 16-47: Post A temperatures (32 channels).
	addTempBlock(add, 16, 47, "PA", schema.GroupPostA)
	// 48-53: Post A electrical (6 channels).
	addElectricalBlock(add, 48, 53, "PA", schema.GroupPostA)
	// 54-85: Post B temperatures (32 channels).
	addTempBlock(add, 54, 85, "PB", schema.GroupPostB)
	// 86-91: Post B electrical (6 channels).
	addElectricalBlock(add, 86, 91, "PB", schema.GroupPostB)
	// 100-131: Post C temperatures (32 channels).
	addTempBlock(add, 100, 131, "PC", schema.GroupPostC)
	// 132-137: Post C electrical (6 channels).
	addElectricalBlock(add, 132, 137, "PC", schema.GroupPostC)
	// 146-149: bench-wide 4-20mA reference loops.
	for i := 146; i <= 149; i++ {
		n := fmt.Sprintf("common_loop_%02d", i-145)
		add(i, n, "mA", "Common current-loop reference "+n, schema.GroupCommon, schema.CurrentLoop, f(4), f(20))
	}

	order = buildProtocolOrder()
}

func addTempBlock(add func(int, string, string, string, schema.Group, schema.PhysicalType, *float64, *float64), lo, hi int, post string, group schema.Group) {
	for i := lo; i <= hi; i++ {
		n := fmt.Sprintf("%s_temp_%02d", post, i-lo+1)
		add(i, n, "degC", post+" temperature probe "+n, group, schema.Temperature, f(-40), f(200))
	}
}

func addElectricalBlock(add func(int, string, string, string, schema.Group, schema.PhysicalType, *float64, *float64), lo, hi int, post string, group schema.Group) {
	for i := lo; i <= hi; i++ {
		n := fmt.Sprintf("%s_elec_%02d", post, i-lo+1)
		add(i, n, "A", post+" electrical channel "+n, group, schema.Electrical, f(0), f(63))
	}
}

// buildProtocolOrder implements the fixed permutation from:
// protocol position p in [0,133] -> registry index.
func buildProtocolOrder() [134]int {
	var o [134]int
	identity := func(lo, hi int) {
		for p := lo; p <= hi; p++ {
			o[p] = p
		}
	}
	remap := func(plo, phi, rlo int) {
		for p := plo; p <= phi; p++ {
			o[p] = rlo + (p - plo)
		}
	}

	identity(0, 5)     // system, identity
	identity(6, 15)    // common, identity
	identity(16, 47)   // Post A temperatures, identity
	remap(48, 79, 54)  // Post B temperatures -> registry 54-85
	remap(80, 111, 100) // Post C -> registry 100-131
	remap(112, 117, 48) // Post A electrical -> registry 48-53
	remap(118, 123, 86) // -> registry 86-91
	remap(124, 129, 132) // -> registry 132-137
	remap(130, 133, 146) // -> registry 146-149
	return o
}

func ensureBuilt() {
	once.Do(build)
}

// ByIndex looks up a channel by its registry index. The second return
// value is false for indices that are not populated (sparse gaps).
func ByIndex(i int) (schema.ChannelDefinition, bool) {
	ensureBuilt()
	c, ok := byIndex[i]
	return c, ok
}

// Name returns the channel's short name, or a synthesized "v%03d"
// placeholder if the index is not populated.
func Name(i int) string {
	ensureBuilt()
	if c, ok := byIndex[i]; ok {
		return c.Name
	}
	return fmt.Sprintf("v%03d", i)
}

// Unit returns the channel's unit string, or "" if the index is not populated.
func Unit(i int) string {
	ensureBuilt()
	if c, ok := byIndex[i]; ok {
		return c.Unit
	}
	return ""
}

// ProtocolOrder returns a fresh copy of the position->registry-index
// permutation so callers cannot mutate the shared table.
func ProtocolOrder() [134]int {
	ensureBuilt()
	return order
}

// Count returns the number of populated registry entries (always 134).
func Count() int {
	ensureBuilt()
	return len(byIndex)
}

// All returns every populated channel definition, unordered.
func All() []schema.ChannelDefinition {
	ensureBuilt()
	out := make([]schema.ChannelDefinition, 0, len(byIndex))
	for _, c := range byIndex {
		out = append(out, c)
	}
	return out
}
