// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hotplug

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Enumerate lists recorders already attached, as attach events, by reading
// sysfs under root (normally "/sys").
func Enumerate(root string, vendor uint16) ([]Event, error) {
	dir := filepath.Join(root, "bus", "usb", "devices")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Event
	for _, e := range entries {
		// Interfaces look like 1-1.4:1.0; only whole devices carry ids.
		if strings.Contains(e.Name(), ":") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		vid, ok := readHex(filepath.Join(p, "idVendor"))
		if !ok || vid != vendor {
			continue
		}
		pid, ok := readHex(filepath.Join(p, "idProduct"))
		if !ok {
			continue
		}
		serial, _ := os.ReadFile(filepath.Join(p, "serial"))
		out = append(out, Event{
			Action:    ActionAttach,
			DeviceID:  devPath(root, p),
			VendorID:  vid,
			ProductID: pid,
			Serial:    strings.TrimSpace(string(serial)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// devPath resolves the sysfs symlink so the id matches udev's DEVPATH.
func devPath(root, p string) string {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		resolved = p
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return resolved
	}
	return "/" + filepath.ToSlash(rel)
}

func readHex(path string) (uint16, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	return parseHex16(string(b))
}
