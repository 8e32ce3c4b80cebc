// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "fmt"

// Unit describes how a downloader interprets a limit value.
type Unit uint8

const (
	// UnitKiBps is an absolute rate in KiB/s where zero means unlimited.
	UnitKiBps Unit = iota
	// UnitPercent is a percentage of the configured line speed, 100 means unlimited.
	UnitPercent
	// UnitUnsupported marks a direction the client cannot limit. It is never sent.
	UnitUnsupported
)

func (u Unit) String() string {
	switch u {
	case UnitKiBps:
		return "KiB/s"
	case UnitPercent:
		return "%"
	case UnitUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("unit(%d)", uint8(u))
	}
}

// Rate is a single direction limit.
type Rate struct {
	Value int64
	Unit  Unit
}

func KiBps(v int64) Rate   { return Rate{Value: v, Unit: UnitKiBps} }
func Percent(v int64) Rate { return Rate{Value: v, Unit: UnitPercent} }

// Unsupported returns the rate used for directions a client cannot limit.
func Unsupported() Rate { return Rate{Unit: UnitUnsupported} }

func (r Rate) Supported() bool { return r.Unit != UnitUnsupported }

// Unlimited reports whether the rate lifts throttling entirely.
func (r Rate) Unlimited() bool {
	switch r.Unit {
	case UnitKiBps:
		return r.Value <= 0
	case UnitPercent:
		return r.Value >= 100
	default:
		return false
	}
}

func (r Rate) String() string {
	switch r.Unit {
	case UnitUnsupported:
		return "n/a"
	case UnitPercent:
		return fmt.Sprintf("%d%%", r.Value)
	default:
		if r.Value <= 0 {
			return "unlimited"
		}
		return fmt.Sprintf("%d KiB/s", r.Value)
	}
}

// SpeedLimits is the pair applied to one downloader. It is comparable with ==.
type SpeedLimits struct {
	Download Rate
	Upload   Rate
}

func (l SpeedLimits) String() string {
	return fmt.Sprintf("down %s / up %s", l.Download, l.Upload)
}
