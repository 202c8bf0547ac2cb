package detect

import (
	"fmt"
	"strconv"
	"time"

	"socwatch/internal/events"
	"socwatch/internal/incidents"
)

// SensorDetector flags out-of-range physical sensor readings.
type SensorDetector struct {
	TempHigh      float64
	TempLow       float64
	VibrationHigh float64
}

func NewSensorDetector() *SensorDetector {
	return &SensorDetector{TempHigh: 70, TempLow: 0, VibrationHigh: 5}
}

func (d *SensorDetector) Name() string { return "sensor_anomaly" }

func (d *SensorDetector) Scan(evts []events.Event) []Candidate {
	var out []Candidate
	for _, ev := range evts {
		if ev.Source != events.SourceSensor {
			continue
		}
		ts := readingTime(ev)
		switch ev.Kind {
		case events.KindTemperature:
			v, err := strconv.ParseFloat(ev.Value, 64)
			if err != nil || (v <= d.TempHigh && v >= d.TempLow) {
				continue
			}
			out = append(out, d.candidate(ev, incidents.SeverityHigh,
				fmt.Sprintf("Abnormal temperature %gC detected at %s", v, ts)))
		case events.KindVibration:
			v, err := strconv.ParseFloat(ev.Value, 64)
			if err != nil || v <= d.VibrationHigh {
				continue
			}
			out = append(out, d.candidate(ev, incidents.SeverityMedium,
				fmt.Sprintf("Excessive vibration (%g) detected at %s", v, ts)))
		case events.KindMotion:
			if ev.Value != "1" {
				continue
			}
			out = append(out, d.candidate(ev, incidents.SeverityLow,
				fmt.Sprintf("Motion detected at %s", ts)))
		}
	}
	return out
}

// Sensor candidates are unkeyed: every out-of-range reading is its own
// incident, and readings are told apart by the time in their description.
func (d *SensorDetector) candidate(ev events.Event, sev incidents.Severity, desc string) Candidate {
	return Candidate{
		Detector:    d.Name(),
		Source:      events.SourceSensor,
		Timestamp:   ev.Timestamp,
		Untimed:     ev.Synthesized,
		Description: desc,
		Severity:    sev,
	}
}

// readingTime is the time quoted in a sensor description. A synthesized
// timestamp differs on every read, so the raw field is quoted instead.
func readingTime(ev events.Event) string {
	if !ev.Synthesized {
		return ev.Timestamp.Format(time.RFC3339)
	}
	if ev.RawTimestamp == "" {
		return "unknown time"
	}
	return ev.RawTimestamp
}
