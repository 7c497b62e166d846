package telemetry

import (
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

// Measurement names.
const (
	SensorMeasurement     = "sensor_data"
	SystemPerfMeasurement = "system_perf"
	ConnStateMeasurement  = "connection_state"
	ActuatorMeasurement   = "actuator_data"
	MessageMeasurement    = "device_message"
)

func contextTags(dc messages.DataContext) map[string]string {
	tags := map[string]string{
		"device_id":        dc.DeviceID,
		"name":             dc.Name,
		"type_category_id": strconv.Itoa(dc.TypeCategoryID),
		"type_id":          strconv.Itoa(dc.TypeID),
	}
	if dc.LocationID != "" {
		tags["location_id"] = dc.LocationID
	}
	return tags
}

func contextFields(dc messages.DataContext) map[string]interface{} {
	return map[string]interface{}{
		"status_code": int64(dc.StatusCode),
		"has_error":   dc.HasError,
	}
}

func stamp(dc messages.DataContext) time.Time {
	if dc.TimeStamp.IsZero() {
		return time.Now().UTC()
	}
	return dc.TimeStamp
}

func SensorPoint(d *messages.SensorData) *write.Point {
	fields := contextFields(d.DataContext)
	fields["value"] = d.Value
	return influxdb2.NewPoint(SensorMeasurement, contextTags(d.DataContext), fields, stamp(d.DataContext))
}

func SystemPerfPoint(d *messages.SystemPerformanceData) *write.Point {
	fields := contextFields(d.DataContext)
	fields["cpu_util"] = d.CPUUtil
	fields["mem_util"] = d.MemUtil
	fields["disk_util"] = d.DiskUtil
	return influxdb2.NewPoint(SystemPerfMeasurement, contextTags(d.DataContext), fields, stamp(d.DataContext))
}

func ConnectionStatePoint(d *messages.ConnectionStateData) *write.Point {
	tags := contextTags(d.DataContext)
	tags["host"] = d.HostName + ":" + strconv.Itoa(d.HostPort)
	fields := contextFields(d.DataContext)
	fields["connected"] = d.IsClientConnected
	fields["connecting"] = d.IsClientConnecting
	fields["state"] = d.StateLabel()
	fields["msg_in"] = d.MsgInCount
	fields["msg_out"] = d.MsgOutCount
	return influxdb2.NewPoint(ConnStateMeasurement, tags, fields, stamp(d.DataContext))
}

func ActuatorPoint(d *messages.ActuatorData) *write.Point {
	tags := contextTags(d.DataContext)
	tags["response"] = strconv.FormatBool(d.IsResponse)
	fields := contextFields(d.DataContext)
	fields["command"] = int64(d.Command)
	fields["value"] = d.Value
	if d.StateData != "" {
		fields["state_data"] = d.StateData
	}
	return influxdb2.NewPoint(ActuatorMeasurement, tags, fields, stamp(d.DataContext))
}

func MessagePoint(d *messages.MessageData) *write.Point {
	fields := contextFields(d.DataContext)
	fields["message"] = d.Message
	return influxdb2.NewPoint(MessageMeasurement, contextTags(d.DataContext), fields, stamp(d.DataContext))
}
