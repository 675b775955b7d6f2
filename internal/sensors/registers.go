// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/i2c"
)

// BitField documents a bit range of a register.
type BitField struct {
	Bits        string `json:"bits"` // "7" or "4:3"
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterInfo is the metadata of one register.
type RegisterInfo struct {
	Address     byte       `json:"address"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R", "W", "RW"
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

// RegisterValue is a register read back from the chip.
type RegisterValue struct {
	RegisterInfo
	Value byte `json:"value"`
}

// MPU6500Registers returns the registers the register dump reads, in
// address order.
func MPU6500Registers() []RegisterInfo {
	return []RegisterInfo{
		{Address: regSmplrtDiv, Name: "SMPLRT_DIV", Description: "Sample Rate Divider", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:0", Name: "SMPLRT_DIV", Description: "Sample Rate = 1kHz / (1 + SMPLRT_DIV)"},
			}},
		{Address: 0x1A, Name: "CONFIG", Description: "Configuration (DLPF)", Access: "RW",
			BitFields: []BitField{
				{Bits: "6", Name: "FIFO_MODE", Description: "FIFO mode", Values: "0=Overwrite, 1=Block new data"},
				{Bits: "5:3", Name: "EXT_SYNC_SET", Description: "External FSYNC pin sampling", Values: "0=Disabled"},
				{Bits: "2:0", Name: "DLPF_CFG", Description: "Digital Low Pass Filter", Values: "0=250Hz, 1=184Hz, 2=92Hz, 3=41Hz, 4=20Hz, 5=10Hz, 6=5Hz, 7=3600Hz"},
			}},
		{Address: regGyroConfig, Name: "GYRO_CONFIG", Description: "Gyroscope Configuration", Access: "RW",
			BitFields: []BitField{
				{Bits: "4:3", Name: "GYRO_FS_SEL", Description: "Gyro Full Scale Range", Values: "0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s"},
				{Bits: "1:0", Name: "FCHOICE_B", Description: "Gyro DLPF bypass", Values: "0=DLPF enabled"},
			}},
		{Address: regAccelConfig, Name: "ACCEL_CONFIG", Description: "Accelerometer Configuration", Access: "RW",
			BitFields: []BitField{
				{Bits: "4:3", Name: "ACCEL_FS_SEL", Description: "Accel Full Scale Range", Values: "0=±2g, 1=±4g, 2=±8g, 3=±16g"},
			}},
		{Address: 0x1D, Name: "ACCEL_CONFIG2", Description: "Accelerometer Configuration 2", Access: "RW",
			BitFields: []BitField{
				{Bits: "3", Name: "ACCEL_FCHOICE_B", Description: "Accel DLPF bypass", Values: "0=DLPF enabled, 1=Bypass"},
				{Bits: "2:0", Name: "A_DLPF_CFG", Description: "Accel DLPF Config", Values: "0=460Hz, 1=184Hz, 2=92Hz, 3=41Hz, 4=20Hz, 5=10Hz, 6=5Hz, 7=460Hz"},
			}},
		{Address: 0x37, Name: "INT_PIN_CFG", Description: "INT Pin / Bypass Enable Configuration", Access: "RW",
			BitFields: []BitField{
				{Bits: "1", Name: "BYPASS_EN", Description: "I2C bypass enable", Values: "0=Disabled, 1=Enabled"},
			}},
		{Address: 0x38, Name: "INT_ENABLE", Description: "Interrupt Enable", Access: "RW",
			BitFields: []BitField{
				{Bits: "0", Name: "RAW_RDY_EN", Description: "Raw data ready interrupt", Values: "0=Disabled, 1=Enabled"},
			}},
		{Address: 0x3A, Name: "INT_STATUS", Description: "Interrupt Status", Access: "R",
			BitFields: []BitField{
				{Bits: "0", Name: "RAW_DATA_RDY_INT", Description: "Raw data ready interrupt status"},
			}},
		{Address: regAccelXOutH, Name: "ACCEL_XOUT_H", Description: "Accelerometer X-Axis High Byte", Access: "R"},
		{Address: 0x3C, Name: "ACCEL_XOUT_L", Description: "Accelerometer X-Axis Low Byte", Access: "R"},
		{Address: regAccelYOutH, Name: "ACCEL_YOUT_H", Description: "Accelerometer Y-Axis High Byte", Access: "R"},
		{Address: 0x3E, Name: "ACCEL_YOUT_L", Description: "Accelerometer Y-Axis Low Byte", Access: "R"},
		{Address: regAccelZOutH, Name: "ACCEL_ZOUT_H", Description: "Accelerometer Z-Axis High Byte", Access: "R"},
		{Address: 0x40, Name: "ACCEL_ZOUT_L", Description: "Accelerometer Z-Axis Low Byte", Access: "R"},
		{Address: 0x41, Name: "TEMP_OUT_H", Description: "Temperature High Byte", Access: "R"},
		{Address: 0x42, Name: "TEMP_OUT_L", Description: "Temperature Low Byte", Access: "R"},
		{Address: regGyroXOutH, Name: "GYRO_XOUT_H", Description: "Gyroscope X-Axis High Byte", Access: "R"},
		{Address: 0x44, Name: "GYRO_XOUT_L", Description: "Gyroscope X-Axis Low Byte", Access: "R"},
		{Address: regGyroYOutH, Name: "GYRO_YOUT_H", Description: "Gyroscope Y-Axis High Byte", Access: "R"},
		{Address: 0x46, Name: "GYRO_YOUT_L", Description: "Gyroscope Y-Axis Low Byte", Access: "R"},
		{Address: regGyroZOutH, Name: "GYRO_ZOUT_H", Description: "Gyroscope Z-Axis High Byte", Access: "R"},
		{Address: 0x48, Name: "GYRO_ZOUT_L", Description: "Gyroscope Z-Axis Low Byte", Access: "R"},
		{Address: 0x6A, Name: "USER_CTRL", Description: "User Control", Access: "RW",
			BitFields: []BitField{
				{Bits: "6", Name: "FIFO_EN", Description: "Enable FIFO", Values: "0=Disabled, 1=Enabled"},
				{Bits: "4", Name: "I2C_IF_DIS", Description: "Disable I2C Slave", Values: "0=Enabled, 1=Disabled"},
				{Bits: "0", Name: "SIG_COND_RST", Description: "Reset signal paths", Values: "1=Reset"},
			}},
		{Address: regPwrMgmt1, Name: "PWR_MGMT_1", Description: "Power Management 1", Access: "RW",
			BitFields: []BitField{
				{Bits: "7", Name: "H_RESET", Description: "Device reset", Values: "1=Reset device"},
				{Bits: "6", Name: "SLEEP", Description: "Sleep mode", Values: "0=Disabled, 1=Sleep"},
				{Bits: "5", Name: "CYCLE", Description: "Cycle mode", Values: "0=Disabled, 1=Cycle"},
				{Bits: "3", Name: "TEMP_DIS", Description: "Temperature sensor", Values: "0=Enabled, 1=Disabled"},
				{Bits: "2:0", Name: "CLKSEL", Description: "Clock source", Values: "0=Internal 20MHz, 1=Auto select best"},
			}},
		{Address: 0x6C, Name: "PWR_MGMT_2", Description: "Power Management 2", Access: "RW"},
		{Address: regWhoAmI, Name: "WHO_AM_I", Description: "Device ID (0x70 for MPU-6500)", Access: "R"},
	}
}

// DumpRegisters reads every register of MPU6500Registers from the chip at
// addr, one single byte transaction each.
func DumpRegisters(bus i2c.Bus, addr uint16) ([]RegisterValue, error) {
	dev := &i2c.Dev{Bus: bus, Addr: addr}
	regs := MPU6500Registers()
	out := make([]RegisterValue, 0, len(regs))
	for _, info := range regs {
		var buf [1]byte
		if err := dev.Tx([]byte{info.Address}, buf[:]); err != nil {
			return out, fmt.Errorf("read %s (0x%02X): %w", info.Name, info.Address, err)
		}
		out = append(out, RegisterValue{RegisterInfo: info, Value: buf[0]})
	}
	return out, nil
}

// Field extracts a bit range such as "4:3" or "6" from the value.
func (rv RegisterValue) Field(bits string) (byte, error) {
	hi, lo, err := parseBits(bits)
	if err != nil {
		return 0, err
	}
	width := hi - lo + 1
	return (rv.Value >> lo) & byte((1<<width)-1), nil
}

func parseBits(bits string) (hi, lo uint, err error) {
	parts := strings.SplitN(bits, ":", 2)
	h, err := strconv.ParseUint(parts[0], 10, 3)
	if err != nil {
		return 0, 0, fmt.Errorf("bad bit range %q", bits)
	}
	l := h
	if len(parts) == 2 {
		if l, err = strconv.ParseUint(parts[1], 10, 3); err != nil || l > h {
			return 0, 0, fmt.Errorf("bad bit range %q", bits)
		}
	}
	return uint(h), uint(l), nil
}

// String renders the register and its decoded fields.
func (rv RegisterValue) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "0x%02X %-14s = 0x%02X (%08b)  %s", rv.Address, rv.Name, rv.Value, rv.Value, rv.Description)
	for _, bf := range rv.BitFields {
		v, err := rv.Field(bf.Bits)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "\n      [%s] %-16s = %d", bf.Bits, bf.Name, v)
		if bf.Values != "" {
			fmt.Fprintf(&sb, "  (%s)", bf.Values)
		}
	}
	return sb.String()
}
