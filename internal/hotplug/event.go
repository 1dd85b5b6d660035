// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hotplug observes physical USB attach and detach of recorders.
package hotplug

import (
	"strconv"
	"strings"
)

// Action is the kind of hotplug event.
type Action string

const (
	ActionAttach Action = "attach"
	ActionDetach Action = "detach"
)

// Event is one attach or detach. DeviceID is the kernel device path and is
// stable between the attach and detach of one plug-in.
type Event struct {
	Action    Action
	DeviceID  string
	VendorID  uint16
	ProductID uint16
	Serial    string
}

// parseProduct parses the PRODUCT property ("10d6/af0c/100").
func parseProduct(v string) (vendor, product uint16, ok bool) {
	parts := strings.Split(v, "/")
	if len(parts) < 2 {
		return 0, 0, false
	}
	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	return uint16(vid), uint16(pid), true
}

func parseHex16(v string) (uint16, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}
