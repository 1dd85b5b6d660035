// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelForProduct(t *testing.T) {
	tests := []struct {
		pid     uint16
		want    Model
		battery bool
	}{
		{0xAF0C, ModelH1, false},
		{0xAF0D, ModelH1E, false},
		{0xAF0E, ModelP1, true},
		{0xAF0F, ModelP1Mini, true},
		{0x0001, ModelUnknown, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%04x", tt.pid), func(t *testing.T) {
			m := ModelForProduct(tt.pid)
			assert.Equal(t, tt.want, m)
			assert.Equal(t, tt.battery, m.Capabilities().BatteryTelemetry)
		})
	}
}

func TestParseModel(t *testing.T) {
	assert.Equal(t, ModelP1Mini, ParseModel(" P1 Mini "))
	assert.Equal(t, ModelH1E, ParseModel("HiDock H1E"))
	assert.Equal(t, ModelUnknown, ParseModel("walkman"))
}

func TestTransportErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("list: %w", &TransportError{Op: "list", Err: ErrNotConnected})
	assert.True(t, IsNotConnected(err))

	var te *TransportError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, "device list: device not connected", te.Error())
}

func TestStorageInfoUsed(t *testing.T) {
	assert.Equal(t, uint64(30), StorageInfo{Total: 100, Free: 70}.Used())
	assert.Equal(t, uint64(0), StorageInfo{Total: 10, Free: 70}.Used())
}
