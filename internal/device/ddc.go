package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// DDC/CI over i2c-dev (VESA DDC/CI 1.1).
const (
	i2cSlaveIoctl = 0x0703 // I2C_SLAVE from linux/i2c-dev.h
	ddcDisplayAdr = 0x37   // 7-bit i2c address of the display
	ddcDestByte   = 0x6E   // destination byte used in checksums
	ddcHostByte   = 0x51   // source byte for host-originated messages

	ddcSetVCPOp = 0x03
	ddcGetVCPOp = 0x01

	// Displays need a quiet period between the Get VCP request and
	// the reply, and between consecutive transactions.
	ddcReplyDelay = 40 * time.Millisecond
	ddcWriteDelay = 50 * time.Millisecond
)

// DDCTransport implements Transport over /dev/i2c-* nodes.
type DDCTransport struct{}

// NewDDCTransport returns the real DDC/CI transport.
func NewDDCTransport() *DDCTransport { return &DDCTransport{} }

// open prepares an i2c node for talking to the display address.
func (t *DDCTransport) open(node string) (int, error) {
	fd, err := unix.Open(node, unix.O_RDWR, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to open %s: %w", node, err)
	}
	if err := unix.IoctlSetInt(fd, i2cSlaveIoctl, ddcDisplayAdr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to select display address on %s: %w", node, err)
	}
	return fd, nil
}

// checksum computes the DDC/CI XOR checksum over the destination byte
// and the message payload.
func checksum(first byte, payload []byte) byte {
	chk := first
	for _, b := range payload {
		chk ^= b
	}
	return chk
}

// SetVCP issues a Set VCP Feature write.
func (t *DDCTransport) SetVCP(ctx context.Context, node string, code byte, value uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fd, err := t.open(node)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	msg := []byte{
		ddcHostByte,
		0x80 | 4, // length: op + opcode + 2 value bytes
		ddcSetVCPOp,
		code,
		byte(value >> 8),
		byte(value),
	}
	msg = append(msg, checksum(ddcDestByte, msg))

	if _, err := unix.Write(fd, msg); err != nil {
		return fmt.Errorf("set vcp write on %s: %w", node, err)
	}

	// Settle time before the next transaction on this bus.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(ddcWriteDelay):
	}
	return nil
}

// GetVCP issues a Get VCP Feature request and parses the reply.
func (t *DDCTransport) GetVCP(ctx context.Context, node string, code byte) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	fd, err := t.open(node)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)

	req := []byte{ddcHostByte, 0x80 | 2, ddcGetVCPOp, code}
	req = append(req, checksum(ddcDestByte, req))
	if _, err := unix.Write(fd, req); err != nil {
		return 0, fmt.Errorf("get vcp write on %s: %w", node, err)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(ddcReplyDelay):
	}

	// Reply: src, len, 0x02, result, opcode, type, max hi/lo,
	// present hi/lo, checksum.
	reply := make([]byte, 11)
	n, err := unix.Read(fd, reply)
	if err != nil {
		return 0, fmt.Errorf("get vcp read on %s: %w", node, err)
	}
	if n < 11 || reply[2] != 0x02 {
		return 0, fmt.Errorf("short or malformed vcp reply from %s (%d bytes)", node, n)
	}
	if reply[3] != 0 {
		return 0, fmt.Errorf("display NACKed vcp code 0x%02x (result %d)", code, reply[3])
	}
	if reply[4] != code {
		return 0, fmt.Errorf("vcp reply for wrong opcode 0x%02x", reply[4])
	}

	return uint16(reply[8])<<8 | uint16(reply[9]), nil
}

// classify maps a raw transport error onto the DeviceError taxonomy.
func classify(deviceID string, err error) *DeviceError {
	cause := CauseTransient

	switch {
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		cause = CausePermission
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
		cause = CauseMissing
	}
	// EIO, EAGAIN, EBUSY, ETIMEDOUT and protocol NACKs all land on
	// transient: i2c buses glitch and recover.

	return &DeviceError{Device: deviceID, Cause: cause, Err: err}
}
