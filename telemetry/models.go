package telemetry

import "time"

// DeviceReport is one multi-part report as sent by a box.
type DeviceReport struct {
	BoxID             string              `json:"boxId"`
	Temperature       float64             `json:"temperature"`
	Humidity          float64             `json:"humidity"`
	CompartmentStatus []CompartmentReport `json:"compartmentStatus,omitempty"`
}

// CompartmentReport is the reported state of a single compartment.
type CompartmentReport struct {
	ID     int  `json:"id"`
	IsOpen bool `json:"isOpen"`
}

// EnvironmentalReading is one stored temperature/humidity sample.
// The timestamp is assigned by the database at insert time.
type EnvironmentalReading struct {
	BoxID       string    `json:"boxId"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Timestamp   time.Time `json:"timestamp"`
}

// CompartmentStatus is one stored open/closed event. The compartment id
// is box-scoped, the current status of a compartment is the most recent
// row for the (boxId, compartmentId) pair.
type CompartmentStatus struct {
	BoxID         string    `json:"boxId"`
	CompartmentID int       `json:"compartmentId"`
	IsOpen        bool      `json:"isOpen"`
	Timestamp     time.Time `json:"timestamp"`
}
