package switcher

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire framing: 2-byte big-endian total length, 2 reserved bytes,
// 4-byte ASCII command name, then the payload.
const headerLen = 8

// maxPacketLen guards against corrupt length prefixes.
const maxPacketLen = 4096

// Command block names.
const (
	cmdHello           = "HELO"
	cmdCut             = "DCut"
	cmdAuto            = "DAut"
	cmdProgramInput    = "PrgI"
	cmdPreviewInput    = "PrvI"
	cmdTransitionState = "TrSS"
	cmdTransitionRate  = "TrRt"
	cmdFadeToBlack     = "FtbA"
	cmdRecordState     = "RecS"
	cmdStreamState     = "StrS"
	cmdInputLabel      = "InPr"
	cmdMacroAction     = "MAct"
	cmdUpstreamKeyer   = "KeOn"
	cmdDownstreamKeyer = "DskO"
	cmdSuperSource     = "SSBx"
	cmdColorGenerator  = "ColV"
	cmdPTZ             = "PtzC"
	cmdAuxSource       = "AuxS"
	cmdAudioLevel      = "AMLv"
)

type packet struct {
	cmd     string
	payload []byte
}

func writePacket(w io.Writer, cmd string, payload []byte) error {
	if len(cmd) != 4 {
		return fmt.Errorf("command name must be 4 bytes, got %q", cmd)
	}
	buf := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(buf)))
	copy(buf[4:8], cmd)
	copy(buf[headerLen:], payload)
	_, err := w.Write(buf)
	return err
}

func readPacket(r io.Reader) (packet, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return packet{}, err
	}
	total := int(binary.BigEndian.Uint16(header[0:2]))
	if total < headerLen || total > maxPacketLen {
		return packet{}, fmt.Errorf("invalid packet length %d", total)
	}

	payload := make([]byte, total-headerLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return packet{}, err
	}
	return packet{cmd: string(header[4:8]), payload: payload}, nil
}

func beUint16(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// beUint16Bytes encodes a 2-byte value followed by a trailing tag
// byte (ME or aux index).
func beUint16Bytes(v int, tag byte) []byte {
	buf := make([]byte, 3)
	binary.BigEndian.PutUint16(buf, uint16(v))
	buf[2] = tag
	return buf
}

func beInt16Bytes(v int) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(int16(v)))
	return buf
}

// cString reads a NUL-terminated string from b.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
