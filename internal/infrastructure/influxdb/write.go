package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSensorReading mirrors one telemetry sample.
//
// Non-blocking; the point is batched and sent asynchronously. A no-op when
// the client is not connected, so the caller never needs to guard it.
//
// Parameters:
//   - temperature: Degrees Celsius
//   - humidity: Relative humidity percent
//   - lightIntensity: Light level in lux
//   - at: Sample timestamp
func (c *Client) WriteSensorReading(temperature, humidity, lightIntensity float64, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sensor_readings",
		map[string]string{"source": "bridge"},
		map[string]interface{}{
			"temperature":     temperature,
			"humidity":        humidity,
			"light_intensity": lightIntensity,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WriteDeviceState mirrors a device status change as a 0/1 gauge.
//
// Parameters:
//   - deviceID: Device identifier
//   - status: "on" or "off"
//   - at: Time of the change
func (c *Client) WriteDeviceState(deviceID, status string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	value := 0.0
	if status == "on" {
		value = 1.0
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"on": value},
		at,
	)
	c.writeAPI.WritePoint(point)
}
