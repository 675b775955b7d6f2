package sensors

import (
	"errors"
	"io"
	"math"
	"os"
	"reflect"
	"sort"
	"sync/atomic"
	"testing"
	"testing/quick"
	"time"

	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
	"github.com/relabs-tech/sensors_to_mqtt/internal/imu"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestMain(m *testing.M) {
	sleep = func(time.Duration) {}
	os.Exit(m.Run())
}

// recorder records every transaction and forwards Close to the chip.
type recorder struct {
	*i2ctest.Record
	chip io.Closer
}

func (r *recorder) Close() error { return r.chip.Close() }

func record(chip *SimIMU) *recorder {
	return &recorder{Record: &i2ctest.Record{Bus: chip}, chip: chip}
}

func quietLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

func device(t *testing.T, src string) config.DeviceConfig {
	t.Helper()
	var d config.DeviceConfig
	if err := yaml.Unmarshal([]byte(src), &d); err != nil {
		t.Fatal(err)
	}
	return d
}

func newMPU(t *testing.T, chip *SimIMU, src string) (*MPU6500, *recorder) {
	t.Helper()
	rec := record(chip)
	s, err := NewMPU6500(rec, device(t, src), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	return s.(*MPU6500), rec
}

func TestBringUpWrites(t *testing.T) {
	chip := NewStaticSimIMU(imu.Raw{Az: 4096})
	m, rec := newMPU(t, chip, `
name: front
address: 0x68
driver: mpu6500
settings: {accel_range: 8, gyro_range: 1000, sample_rate: 100}
`)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}

	want := []i2ctest.IO{
		{Addr: 0x68, W: []byte{0x6B, 0x00}},
		{Addr: 0x68, W: []byte{0x19, 9}},
		{Addr: 0x68, W: []byte{0x1C, 0x10}},
		{Addr: 0x68, W: []byte{0x1B, 0x10}},
	}
	if len(rec.Ops) < len(want) {
		t.Fatalf("only %d transactions recorded", len(rec.Ops))
	}
	for i, w := range want {
		got := rec.Ops[i]
		if got.Addr != w.Addr || !reflect.DeepEqual(got.W, w.W) || len(got.R) != 0 {
			t.Errorf("op %d = %+v, want %+v", i, got, w)
		}
	}

	// calibration reads the six axes 300 times, two bytes each
	reads := rec.Ops[len(want):]
	if len(reads) != calibrationSamples*6 {
		t.Errorf("calibration transactions = %d, want %d", len(reads), calibrationSamples*6)
	}
	for i, op := range reads[:6] {
		if op.W[0] != axisRegs[i] || len(op.R) != 2 {
			t.Errorf("axis read %d = %+v", i, op)
		}
	}
	if chip.Register(regAccelConfig) != 0x10 || chip.Register(regGyroConfig) != 0x10 {
		t.Errorf("chip config = 0x%02X/0x%02X", chip.Register(regAccelConfig), chip.Register(regGyroConfig))
	}
}

func TestSampleRateDivider(t *testing.T) {
	tests := []struct {
		rate int
		div  byte
	}{
		{100, 9},
		{1000, 0},
		{500, 1},
		{50, 19},
		{3, 76},   // 333 - 1
		{1, 0xE7}, // 999 truncated to a byte
	}
	for _, tt := range tests {
		s := DefaultMPU6500Settings()
		s.SampleRate = tt.rate
		if got := s.Divider(); got != tt.div {
			t.Errorf("Divider(%d) = %d, want %d", tt.rate, got, tt.div)
		}
	}
}

func TestUnknownRangesDefault(t *testing.T) {
	log, hook := test.NewNullLogger()
	s, err := NewMPU6500(NewStaticSimIMU(imu.Raw{}), device(t, `
name: odd
driver: mpu6500
settings: {accel_range: 3, gyro_range: 4000}
`), log)
	if err != nil {
		t.Fatal(err)
	}
	info := s.Describe()
	if info.AccelRange != 16 || info.GyroRange != 2000 || info.Address != DefaultMPU6500Addr {
		t.Errorf("info = %+v", info)
	}
	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	if warnings != 2 {
		t.Errorf("warnings = %d, want 2", warnings)
	}
}

func TestInvalidSettings(t *testing.T) {
	tests := []string{
		`{name: a, driver: mpu6500, settings: {sample_rate: 0}}`,
		`{name: a, driver: mpu6500, settings: {sample_rate: 2000}}`,
		`{name: a, driver: mpu6500, settings: {filters: {gyro: {measurement_noise: 0}}}}`,
		`{name: a, driver: mpu6500, settings: {filters: {accel_z: {process_noise: 0.1}}}}`,
		`{name: a, driver: mpu6500, settings: {accel_range: fast}}`,
	}
	for _, src := range tests {
		if _, err := NewMPU6500(NewStaticSimIMU(imu.Raw{}), device(t, src), quietLogger()); !errors.Is(err, config.ErrInvalid) {
			t.Errorf("%s: err = %v, want ErrInvalid", src, err)
		}
	}
}

func TestZBiasAtRest(t *testing.T) {
	chip := NewStaticSimIMU(imu.Raw{Ax: 12, Ay: -7, Az: 2048 + 30, Gx: 5, Gy: -3, Gz: 1})
	m, _ := newMPU(t, chip, `{name: a, driver: mpu6500}`)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	want := imu.Calibration{Accel: [3]int32{12, -7, 30}, Gyro: [3]int32{5, -3, 1}}
	if got := m.Calibration(); got != want {
		t.Errorf("calibration = %+v, want %+v", got, want)
	}
}

func TestCalibrationZeroAtRest(t *testing.T) {
	prop := func(bx, by, bz, gx, gy, gz int8) bool {
		raw := imu.Raw{
			Ax: int16(bx), Ay: int16(by), Az: 2048 + int16(bz),
			Gx: int16(gx), Gy: int16(gy), Gz: int16(gz),
		}
		s, err := NewMPU6500(NewStaticSimIMU(raw), config.DeviceConfig{Name: "p", Driver: "mpu6500"}, quietLogger())
		if err != nil {
			return false
		}
		m := s.(*MPU6500)
		if err := m.Init(); err != nil {
			return false
		}
		var sample Sample
		for i := 0; i < 5; i++ {
			if sample, err = m.Read(); err != nil {
				return false
			}
		}
		v := sample.Values
		dz := m.Settings().Filters.Accel.DeadZone
		// at rest only gravity remains, on Z
		return math.Abs(v["accel_raw_x"]) <= dz &&
			math.Abs(v["accel_raw_y"]) <= dz &&
			math.Abs(v["accel_raw_z"]-1) <= dz &&
			math.Abs(v["accel_x"]) <= dz &&
			math.Abs(v["accel_y"]) <= dz &&
			v["gyro_x"] == 0 && v["gyro_y"] == 0 && v["gyro_z"] == 0 &&
			math.Abs(v["lean_angle"]) < 1 && math.Abs(v["bank_angle"]) < 1
	}
	if err := quick.Check(prop, &quick.Config{MaxCount: 20}); err != nil {
		t.Error(err)
	}
}

// Tilting the chip after a level calibration leaves gravity on X. The
// angle bank keeps it while the G-force bank has it removed, so the two
// outputs must differ.
func TestAccelBanksIndependent(t *testing.T) {
	var tilted atomic.Bool
	chip := NewStaticSimIMU(imu.Raw{})
	chip.source = func(time.Duration, float64, float64) imu.Raw {
		if tilted.Load() {
			return imu.Raw{Ax: 1024, Az: 2048}
		}
		return imu.Raw{Az: 2048}
	}
	m, _ := newMPU(t, chip, `
name: tilt
driver: mpu6500
settings: {accel_range: 16}
`)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	tilted.Store(true)

	var sample Sample
	var err error
	for i := 0; i < 10; i++ {
		if sample, err = m.Read(); err != nil {
			t.Fatal(err)
		}
	}

	v := sample.Values
	const tol = 0.01
	wantLinX := 0.5 - 0.5/math.Sqrt(1.25)
	if math.Abs(v["accel_raw_x"]-0.5) > tol {
		t.Errorf("accel_raw_x = %.4f, want 0.5", v["accel_raw_x"])
	}
	if math.Abs(v["accel_x"]-wantLinX) > tol || math.Abs(v["g_force_x"]-wantLinX) > tol {
		t.Errorf("accel_x = %.4f, g_force_x = %.4f, want %.4f", v["accel_x"], v["g_force_x"], wantLinX)
	}
	if math.Abs(v["accel_raw_z"]-1) > tol || math.Abs(v["accel_z"]-1) > tol {
		t.Errorf("accel_raw_z = %.4f, accel_z = %.4f, want 1", v["accel_raw_z"], v["accel_z"])
	}
	wantBank := math.Atan(0.5) * 180 / math.Pi
	if math.Abs(v["bank_angle"]-wantBank) > 0.1 || math.Abs(v["lean_angle"]) > 0.1 {
		t.Errorf("bank = %.2f, lean = %.2f, want %.2f, 0", v["bank_angle"], v["lean_angle"], wantBank)
	}
}

var mpuKeys = []string{
	"accel_raw_x", "accel_raw_y", "accel_raw_z",
	"accel_x", "accel_y", "accel_z",
	"bank_angle",
	"g_force_x", "g_force_y", "g_force_z",
	"gyro_x", "gyro_y", "gyro_z",
	"lean_angle",
	"pitch_rate", "roll_rate", "yaw_rate",
}

func TestSchemaStability(t *testing.T) {
	chip := NewSimIMU(0)
	m, _ := newMPU(t, chip, `{name: sway, driver: mpu6500, settings: {accel_range: 4, gyro_range: 500}}`)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	want := append([]string(nil), mpuKeys...)
	sort.Strings(want)

	var last time.Time
	for i := 0; i < 25; i++ {
		s, err := m.Read()
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(s.Keys(), want) {
			t.Fatalf("sample %d keys = %v", i, s.Keys())
		}
		for k, v := range s.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("sample %d %s = %v", i, k, v)
			}
		}
		if s.Device != "sway" || s.SampleRate != 100 {
			t.Errorf("sample %d header = %q/%d", i, s.Device, s.SampleRate)
		}
		if s.Timestamp.Before(last) {
			t.Errorf("sample %d went back in time", i)
		}
		last = s.Timestamp
	}
}

func TestMirroredKeys(t *testing.T) {
	chip := NewSimIMU(0)
	m, _ := newMPU(t, chip, `{name: m, driver: mpu6500}`)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	s, err := m.Read()
	if err != nil {
		t.Fatal(err)
	}
	v := s.Values
	pairs := [][2]string{
		{"accel_x", "g_force_x"}, {"accel_y", "g_force_y"}, {"accel_z", "g_force_z"},
		{"gyro_x", "roll_rate"}, {"gyro_y", "pitch_rate"}, {"gyro_z", "yaw_rate"},
	}
	for _, p := range pairs {
		if v[p[0]] != v[p[1]] {
			t.Errorf("%s = %v, %s = %v", p[0], v[p[0]], p[1], v[p[1]])
		}
	}
}

func TestReadErrorRecovers(t *testing.T) {
	chip := NewStaticSimIMU(imu.Raw{Az: 2048})
	m, _ := newMPU(t, chip, `{name: flaky, driver: mpu6500}`)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}

	ioErr := errors.New("remote I/O error")
	chip.SetError(ioErr)
	if _, err := m.Read(); !errors.Is(err, ErrRead) || !errors.Is(err, ioErr) {
		t.Errorf("err = %v, want ErrRead wrapping the bus error", err)
	}

	chip.SetError(nil)
	if _, err := m.Read(); err != nil {
		t.Errorf("read after recovery: %v", err)
	}
}

func TestInitFailure(t *testing.T) {
	chip := NewStaticSimIMU(imu.Raw{})
	chip.SetError(errors.New("no ack"))
	m, _ := newMPU(t, chip, `{name: gone, driver: mpu6500}`)
	if err := m.Init(); !errors.Is(err, ErrBringUp) {
		t.Errorf("err = %v, want ErrBringUp", err)
	}
}

func TestRecalibrate(t *testing.T) {
	chip := NewStaticSimIMU(imu.Raw{Ax: 100, Az: 2048})
	m, _ := newMPU(t, chip, `{name: r, driver: mpu6500}`)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.Read(); err != nil {
			t.Fatal(err)
		}
	}

	// the sensor is bumped and settles at a new bias
	chip.source = func(time.Duration, float64, float64) imu.Raw { return imu.Raw{Ax: 300, Az: 2048} }
	if err := m.Recalibrate(); err != nil {
		t.Fatal(err)
	}
	if got := m.Calibration().Accel[0]; got != 300 {
		t.Errorf("x offset = %d, want 300", got)
	}
	for _, f := range m.rawAccel {
		if f.Initialized() {
			t.Error("filter still initialized after recalibration")
		}
	}
	s, err := m.Read()
	if err != nil {
		t.Fatal(err)
	}
	if s.Values["accel_raw_x"] != 0 {
		t.Errorf("accel_raw_x = %v, want 0", s.Values["accel_raw_x"])
	}
}

func TestDescribe(t *testing.T) {
	m, _ := newMPU(t, NewStaticSimIMU(imu.Raw{}), `{name: front, address: 0x69, driver: mpu6500, settings: {accel_range: 4, gyro_range: 250}}`)
	info := m.Describe()
	want := "front MPU6500 IMU (addr: 0x69) - Accel: ±4g, Gyro: ±250°/s"
	if info.Summary != want {
		t.Errorf("summary = %q, want %q", info.Summary, want)
	}
	if info.FilterInfo["accel_process_noise"] != 0.0001 || info.FilterInfo["gyro_measurement_noise"] != 0.003 {
		t.Errorf("filter info = %v", info.FilterInfo)
	}
	if math.Abs(info.FilterInfo["accel_z_measurement_noise"]-0.0025*0.7) > 1e-12 {
		t.Errorf("accel_z measurement noise = %v", info.FilterInfo["accel_z_measurement_noise"])
	}
}

func TestEnabledAndClose(t *testing.T) {
	chip := NewStaticSimIMU(imu.Raw{})
	m, _ := newMPU(t, chip, `{name: e, driver: mpu6500}`)
	if !m.Enabled() {
		t.Error("new sensor disabled")
	}
	m.SetEnabled(false)
	if m.Enabled() {
		t.Error("SetEnabled(false) ignored")
	}
	if err := m.Close(); err != nil || !chip.Closed() {
		t.Errorf("Close = %v, closed = %v", err, chip.Closed())
	}
}
