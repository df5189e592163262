package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Field helpers shared by the record codecs. Strings are uint16
// length-prefixed, integers big-endian.

var errFieldTooLong = errors.New("record field length exceeded")

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errFieldTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

func writeInt64(buf *bytes.Buffer, v int64) error {
	return binary.Write(buf, binary.BigEndian, v)
}

func readInt64(r *bytes.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
