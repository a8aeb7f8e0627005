package sensors

import (
	"testing"

	"heatbridge/internal/dewarmte"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevice() dewarmte.Device {
	temp := 7.1
	return dewarmte.Device{
		ID:       "D1",
		Nickname: "Garage Pump",
		Model:    "AO",
		Status: map[string]interface{}{
			"supply_temperature": 45.2,
			"is_on":              true,
			"water_pressure":     1.8, // not in the descriptor table
		},
		OutdoorTemp: &temp,
		Insights: &dewarmte.Insights{
			HeatSum:                       10,
			ElectricitySum:                3,
			COP:                           3.3,
			CalculatedConsumedElectricity: 3.0,
		},
	}
}

func findReading(t *testing.T, readings []Reading, field string) Reading {
	t.Helper()
	for _, r := range readings {
		if r.Field == field {
			return r
		}
	}
	t.Fatalf("no reading for field %q", field)
	return Reading{}
}

func TestForDevice(t *testing.T) {
	readings := ForDevice(testDevice())

	supply := findReading(t, readings, "supply_temperature")
	assert.Equal(t, KindTemperature, supply.Kind)
	assert.Equal(t, "°C", supply.Unit)
	assert.Equal(t, 45.2, supply.Value)
	assert.Equal(t, "Garage Pump", supply.DeviceName)

	isOn := findReading(t, readings, "is_on")
	assert.Equal(t, KindBinary, isOn.Kind)
	assert.Equal(t, true, isOn.Value)

	outdoor := findReading(t, readings, "outdoor_temp")
	assert.Equal(t, 7.1, outdoor.Value)

	cop := findReading(t, readings, "cop")
	assert.Equal(t, KindEfficiency, cop.Kind)
	assert.Equal(t, 3.3, cop.Value)

	consumed := findReading(t, readings, "calculated_consumed_electricity")
	assert.Equal(t, 3.0, consumed.Value)

	// Fields outside the descriptor table are not exposed.
	for _, r := range readings {
		assert.NotEqual(t, "water_pressure", r.Field)
	}
}

func TestForDevice_AbsentSubMaps(t *testing.T) {
	device := dewarmte.Device{
		ID:       "D2",
		Nickname: "Bare",
		Status:   map[string]interface{}{"target_temperature": 21.0},
	}

	readings := ForDevice(device)
	require.Len(t, readings, 1)
	assert.Equal(t, "target_temperature", readings[0].Field)
}

func TestFlatten_StableOrder(t *testing.T) {
	snapshot := dewarmte.Snapshot{
		"b": {ID: "b", Status: map[string]interface{}{"is_on": false}},
		"a": {ID: "a", Status: map[string]interface{}{"is_on": true}},
	}

	readings := Flatten(snapshot)
	require.Len(t, readings, 2)
	assert.Equal(t, "a", readings[0].DeviceID)
	assert.Equal(t, "b", readings[1].DeviceID)
}

func TestFlatten_Empty(t *testing.T) {
	assert.Empty(t, Flatten(dewarmte.Snapshot{}))
}
