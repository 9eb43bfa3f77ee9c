// Package influxdb records Yunmao device state history and gateway counters
// in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. The bridge only
// writes; dashboards query InfluxDB directly.
//
// Measurements:
//
//	device_state   tags: device, kind, source   fields: on, position, closed
//	gateway_stats  tags: gateway                fields: engine counters
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Warn("influx write", "error", err) })
package influxdb
