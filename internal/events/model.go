package events

import "time"

// Source identifies the producer family of an event and of the incidents it leads to.
type Source string

const (
	SourceLog    Source = "LOG"
	SourceEmail  Source = "EMAIL"
	SourceSensor Source = "SENSOR"
)

// Event is one normalized input line. Events live for a single detection pass
// and are never persisted or mutated after normalization.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	RawTimestamp string    `json:"raw_timestamp,omitempty"`
	Synthesized  bool      `json:"synthesized,omitempty"`
	Message      string    `json:"message"`
	Host         string    `json:"host,omitempty"`
	SourceFile   string    `json:"source_file"`
	Source       Source    `json:"source"`

	// Kind and Value are set for sensor readings only.
	Kind  string `json:"kind,omitempty"`
	Value string `json:"value,omitempty"`
}

// Sensor reading kinds accepted by ParseSensorLine.
const (
	KindTemperature = "temperature"
	KindMotion      = "motion"
	KindVibration   = "vibration"
)
