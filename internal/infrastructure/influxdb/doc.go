// Package influxdb stores robocore telemetry as time series: per-subsystem
// setpoint, position, velocity and health, and the scheduler's tick
// statistics. Dashboards read them back to tune gains between matches.
//
// Points are batched by influxdb-client-go's non-blocking write API, so
// the telemetry sampler never waits on the network. A batch the server
// rejects is logged and dropped.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetLogger(log)
//	client.WriteSubsystemSample(cfg.Robot.ID, sample, time.Now())
package influxdb
