// Package sensors maps merged device snapshots onto flat, displayable
// sensor readings using a declarative descriptor table.
package sensors

import (
	"sort"

	"heatbridge/internal/dewarmte"
)

// Source names the sub-map of a device record a field is read from
type Source string

const (
	SourceStatus   Source = "status"
	SourceInsights Source = "insights"
	SourceDevice   Source = "device"
)

// Kind is the semantic type of a reading, used by consumers to pick
// device classes and icons
type Kind string

const (
	KindTemperature Kind = "temperature"
	KindPower       Kind = "power"
	KindEnergy      Kind = "energy"
	KindEfficiency  Kind = "efficiency"
	KindBinary      Kind = "binary"
)

// Descriptor declares one exposable field: where it lives in the
// device record and what it means. Fields absent from a device are
// simply skipped, never defaulted.
type Descriptor struct {
	Field  string
	Source Source
	Kind   Kind
	Unit   string
}

// Descriptors is the full table of fields exposed as sensors
var Descriptors = []Descriptor{
	{Field: "supply_temperature", Source: SourceStatus, Kind: KindTemperature, Unit: "°C"},
	{Field: "target_temperature", Source: SourceStatus, Kind: KindTemperature, Unit: "°C"},
	{Field: "actual_temperature", Source: SourceStatus, Kind: KindTemperature, Unit: "°C"},
	{Field: "heat_input", Source: SourceStatus, Kind: KindPower, Unit: "kW"},
	{Field: "heat_output", Source: SourceStatus, Kind: KindPower, Unit: "kW"},
	{Field: "electricity_consumption", Source: SourceStatus, Kind: KindEnergy, Unit: "kWh"},
	{Field: "is_on", Source: SourceStatus, Kind: KindBinary},
	{Field: "gas_boiler", Source: SourceStatus, Kind: KindBinary},
	{Field: "thermostat", Source: SourceStatus, Kind: KindBinary},
	{Field: "is_connected", Source: SourceStatus, Kind: KindBinary},
	{Field: "outdoor_temp", Source: SourceDevice, Kind: KindTemperature, Unit: "°C"},
	{Field: "heat_sum", Source: SourceInsights, Kind: KindEnergy, Unit: "kWh"},
	{Field: "electricity_sum", Source: SourceInsights, Kind: KindEnergy, Unit: "kWh"},
	{Field: "calculated_consumed_electricity", Source: SourceInsights, Kind: KindEnergy, Unit: "kWh"},
	{Field: "cop", Source: SourceInsights, Kind: KindEfficiency},
}

// Reading is one flattened sensor value for one device
type Reading struct {
	DeviceID   string      `json:"device_id"`
	DeviceName string      `json:"device_name"`
	Field      string      `json:"field"`
	Kind       Kind        `json:"kind"`
	Unit       string      `json:"unit,omitempty"`
	Value      interface{} `json:"value"`
}

// ForDevice extracts the readings one device currently exposes,
// in descriptor-table order.
func ForDevice(device dewarmte.Device) []Reading {
	readings := make([]Reading, 0, len(Descriptors))
	for _, desc := range Descriptors {
		value, ok := lookup(device, desc)
		if !ok {
			continue
		}
		readings = append(readings, Reading{
			DeviceID:   device.ID,
			DeviceName: device.Nickname,
			Field:      desc.Field,
			Kind:       desc.Kind,
			Unit:       desc.Unit,
			Value:      value,
		})
	}
	return readings
}

// Flatten extracts all readings from a snapshot, devices ordered by ID
// so output is stable across cycles.
func Flatten(snapshot dewarmte.Snapshot) []Reading {
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var readings []Reading
	for _, id := range ids {
		readings = append(readings, ForDevice(snapshot[id])...)
	}
	return readings
}

func lookup(device dewarmte.Device, desc Descriptor) (interface{}, bool) {
	switch desc.Source {
	case SourceStatus:
		if device.Status == nil {
			return nil, false
		}
		value, ok := device.Status[desc.Field]
		return value, ok
	case SourceInsights:
		if device.Insights == nil {
			return nil, false
		}
		switch desc.Field {
		case "heat_sum":
			return device.Insights.HeatSum, true
		case "electricity_sum":
			return device.Insights.ElectricitySum, true
		case "calculated_consumed_electricity":
			return device.Insights.CalculatedConsumedElectricity, true
		case "cop":
			return device.Insights.COP, true
		}
		return nil, false
	case SourceDevice:
		if desc.Field == "outdoor_temp" && device.OutdoorTemp != nil {
			return *device.OutdoorTemp, true
		}
		return nil, false
	}
	return nil, false
}
