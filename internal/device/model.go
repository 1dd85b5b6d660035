// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import "strings"

// VendorID is the USB vendor id shared by every supported recorder.
const VendorID uint16 = 0x10D6

// Model identifies a recorder family.
type Model string

const (
	ModelH1      Model = "h1"
	ModelH1E     Model = "h1e"
	ModelP1      Model = "p1"
	ModelP1Mini  Model = "p1-mini"
	ModelUnknown Model = "unknown"
)

var productModels = map[uint16]Model{
	0xAF0C: ModelH1,
	0xAF0D: ModelH1E,
	0xAF0E: ModelP1,
	0xAF0F: ModelP1Mini,
}

// ModelForProduct maps a USB product id to a model.
func ModelForProduct(productID uint16) Model {
	if m, ok := productModels[productID]; ok {
		return m
	}
	return ModelUnknown
}

// ParseModel accepts the names written by Model.String and common vendor spellings.
func ParseModel(s string) Model {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h1", "hidock h1":
		return ModelH1
	case "h1e", "hidock h1e":
		return ModelH1E
	case "p1", "hidock p1":
		return ModelP1
	case "p1-mini", "p1 mini", "hidock p1 mini":
		return ModelP1Mini
	default:
		return ModelUnknown
	}
}

func (m Model) String() string { return string(m) }

// Capabilities describes optional features of a model.
type Capabilities struct {
	BatteryTelemetry bool `json:"battery_telemetry"`
}

// Capabilities reports what the model supports. Only the portable models run on battery.
func (m Model) Capabilities() Capabilities {
	switch m {
	case ModelP1, ModelP1Mini:
		return Capabilities{BatteryTelemetry: true}
	default:
		return Capabilities{}
	}
}
