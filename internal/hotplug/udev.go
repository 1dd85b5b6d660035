// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hotplug

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/hidocu/internal/log"
)

// Parse reads `udevadm monitor --property` output and emits USB device events
// of the given vendor. Blocks are separated by blank lines.
func Parse(r io.Reader, vendor uint16, emit func(Event)) error {
	sc := bufio.NewScanner(r)
	props := map[string]string{}

	flush := func() {
		defer func() { props = map[string]string{} }()
		if len(props) == 0 {
			return
		}
		if props["SUBSYSTEM"] != "" && props["SUBSYSTEM"] != "usb" {
			return
		}
		if props["DEVTYPE"] != "usb_device" {
			return
		}
		var action Action
		switch props["ACTION"] {
		case "add":
			action = ActionAttach
		case "remove":
			action = ActionDetach
		default:
			return
		}
		vid, pid, ok := parseProduct(props["PRODUCT"])
		if !ok {
			v, okV := parseHex16(props["ID_VENDOR_ID"])
			p, okP := parseHex16(props["ID_MODEL_ID"])
			if !okV || !okP {
				return
			}
			vid, pid = v, p
		}
		if vid != vendor {
			return
		}
		emit(Event{
			Action:    action,
			DeviceID:  props["DEVPATH"],
			VendorID:  vid,
			ProductID: pid,
			Serial:    props["ID_SERIAL_SHORT"],
		})
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			flush()
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			props[k] = v
		}
	}
	flush()
	return sc.Err()
}

// Monitor runs udevadm and reports recorder events.
type Monitor struct {
	Binary string
	Vendor uint16
	Logger *zerolog.Logger
}

// Run blocks until ctx is done or udevadm exits.
func (m *Monitor) Run(ctx context.Context, onEvent func(Event)) error {
	bin := m.Binary
	if bin == "" {
		bin = "udevadm"
	}
	logger := log.WithComponent("hotplug")
	if m.Logger != nil {
		logger = *m.Logger
	}

	cmd := exec.CommandContext(ctx, bin, "monitor", "--udev", "--subsystem-match=usb", "--property")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}
	logger.Info().Str(log.FieldEvent, "hotplug.monitor_started").Str("binary", bin).Msg("watching USB hotplug events")

	perr := Parse(stdout, m.Vendor, func(ev Event) {
		logger.Debug().
			Str(log.FieldEvent, "hotplug."+string(ev.Action)).
			Str(log.FieldDeviceID, ev.DeviceID).
			Uint16("product_id", ev.ProductID).
			Msg("hotplug event")
		onEvent(ev)
	})
	werr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if perr != nil {
		return perr
	}
	var exitErr *exec.ExitError
	if errors.As(werr, &exitErr) {
		return fmt.Errorf("%s exited: %w", bin, werr)
	}
	return werr
}
