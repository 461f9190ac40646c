package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementConnectivity = "device_connectivity"
	measurementFleet        = "fleet_connectivity"
)

// WriteConnectivity records one transition as
// device_connectivity,class=<class>,device_id=<id> connected=0|1.
//
// The write is non-blocking and is dropped silently when disconnected;
// SQLite remains the system of record.
func (c *Client) WriteConnectivity(class string, deviceID int, ts time.Time, connected bool) {
	if !c.IsConnected() {
		return
	}

	value := 0
	if connected {
		value = 1
	}
	c.writeAPI.WritePoint(write.NewPoint(
		measurementConnectivity,
		map[string]string{
			"class":     class,
			"device_id": strconv.Itoa(deviceID),
		},
		map[string]interface{}{
			"connected": value,
		},
		ts.UTC(),
	))
}

// WriteFleet records the connected count of a device class after a tick.
func (c *Client) WriteFleet(class string, total, connected int, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	percent := 0.0
	if total > 0 {
		percent = float64(connected) * 100 / float64(total)
	}
	c.writeAPI.WritePoint(write.NewPoint(
		measurementFleet,
		map[string]string{"class": class},
		map[string]interface{}{
			"total":     total,
			"connected": connected,
			"percent":   percent,
		},
		ts.UTC(),
	))
}
