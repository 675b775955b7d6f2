package imu

// Raw represents a single raw six-axis sample in sensor counts.
type Raw struct {
	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

// Accel returns the accelerometer counts in X/Y/Z order.
func (r Raw) Accel() [3]int16 { return [3]int16{r.Ax, r.Ay, r.Az} }

// Gyro returns the gyroscope counts in X/Y/Z order.
func (r Raw) Gyro() [3]int16 { return [3]int16{r.Gx, r.Gy, r.Gz} }

// RawSource is anything that can produce raw samples, one per call.
type RawSource interface {
	ReadRaw() (Raw, error)
}
