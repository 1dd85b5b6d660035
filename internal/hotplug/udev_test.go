// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hotplug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const monitorOutput = `monitor will print the received events for:
UDEV - the event which udev sends out after rule processing

UDEV  [1234.5678] add      /devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1.4 (usb)
ACTION=add
DEVPATH=/devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1.4
SUBSYSTEM=usb
DEVNAME=/dev/bus/usb/001/007
DEVTYPE=usb_device
PRODUCT=10d6/af0e/100
ID_VENDOR_ID=10d6
ID_MODEL_ID=af0e
ID_SERIAL_SHORT=P1-000123

UDEV  [1234.6000] add      /devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1.4/1-1.4:1.0 (usb)
ACTION=add
DEVPATH=/devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1.4/1-1.4:1.0
SUBSYSTEM=usb
DEVTYPE=usb_interface
PRODUCT=10d6/af0e/100

UDEV  [1300.0000] add      /devices/pci0000:00/0000:00:14.0/usb1/1-2 (usb)
ACTION=add
DEVPATH=/devices/pci0000:00/0000:00:14.0/usb1/1-2
SUBSYSTEM=usb
DEVTYPE=usb_device
PRODUCT=46d/c52b/1211

UDEV  [1400.0000] bind     /devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1.4 (usb)
ACTION=bind
DEVPATH=/devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1.4
SUBSYSTEM=usb
DEVTYPE=usb_device
PRODUCT=10d6/af0e/100

UDEV  [1500.0000] remove   /devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1.4 (usb)
ACTION=remove
DEVPATH=/devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1.4
SUBSYSTEM=usb
DEVTYPE=usb_device
PRODUCT=10d6/af0e/100
`

func TestParse_FiltersVendorAndDeviceType(t *testing.T) {
	var got []Event
	err := Parse(strings.NewReader(monitorOutput), 0x10D6, func(ev Event) { got = append(got, ev) })
	require.NoError(t, err)

	const path = "/devices/pci0000:00/0000:00:14.0/usb1/1-1/1-1.4"
	want := []Event{
		{Action: ActionAttach, DeviceID: path, VendorID: 0x10D6, ProductID: 0xAF0E, Serial: "P1-000123"},
		{Action: ActionDetach, DeviceID: path, VendorID: 0x10D6, ProductID: 0xAF0E},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_FallsBackToIDProperties(t *testing.T) {
	in := "ACTION=add\nDEVPATH=/devices/x/1-3\nDEVTYPE=usb_device\nID_VENDOR_ID=10d6\nID_MODEL_ID=af0c\n"
	var got []Event
	require.NoError(t, Parse(strings.NewReader(in), 0x10D6, func(ev Event) { got = append(got, ev) }))
	require.Len(t, got, 1)
	assert.Equal(t, uint16(0xAF0C), got[0].ProductID)
}

func TestParseProduct(t *testing.T) {
	vid, pid, ok := parseProduct("10d6/af0f/100")
	assert.True(t, ok)
	assert.Equal(t, uint16(0x10D6), vid)
	assert.Equal(t, uint16(0xAF0F), pid)

	_, _, ok = parseProduct("garbage")
	assert.False(t, ok)
	_, _, ok = parseProduct("zz/af0f/1")
	assert.False(t, ok)
}

func writeSysfsDevice(t *testing.T, root, name, vid, pid, serial string) {
	t.Helper()
	devDir := filepath.Join(root, "devices", "pci0000:00", "usb1", name)
	require.NoError(t, os.MkdirAll(devDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "idVendor"), []byte(vid+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "idProduct"), []byte(pid+"\n"), 0o644))
	if serial != "" {
		require.NoError(t, os.WriteFile(filepath.Join(devDir, "serial"), []byte(serial+"\n"), 0o644))
	}
	link := filepath.Join(root, "bus", "usb", "devices", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0o755))
	require.NoError(t, os.Symlink(devDir, link))
}

func TestEnumerate(t *testing.T) {
	root := t.TempDir()
	writeSysfsDevice(t, root, "1-1.4", "10d6", "af0d", "H1E-77")
	writeSysfsDevice(t, root, "1-2", "046d", "c52b", "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bus", "usb", "devices", "1-1.4:1.0"), 0o755))

	got, err := Enumerate(root, 0x10D6)
	require.NoError(t, err)

	want := []Event{{
		Action:    ActionAttach,
		DeviceID:  "/devices/pci0000:00/usb1/1-1.4",
		VendorID:  0x10D6,
		ProductID: 0xAF0D,
		Serial:    "H1E-77",
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("enumerate mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumerate_MissingSysfs(t *testing.T) {
	got, err := Enumerate(filepath.Join(t.TempDir(), "nope"), 0x10D6)
	assert.NoError(t, err)
	assert.Empty(t, got)
}
