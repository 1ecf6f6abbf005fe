package utils

import (
	"bytes"
	"encoding/binary"

	// Using this as it is better maintained
	"github.com/hashicorp/go-msgpack/v2/codec"
)

// ConvertUint64ToBytes converts uint64 to bytes of 64 bits
func ConvertUint64ToBytes(u uint64) []byte {
	buf := make([]byte, 8) // 8*8 = 64
	binary.BigEndian.PutUint64(buf, u)
	return buf
}

// Converts bytes to an integer
func ConvertBytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// DecodeMsgPack reverses EncodeMsgPack
func DecodeMsgPack(buf []byte, out interface{}) error {
	r := bytes.NewBuffer(buf)
	hd := codec.MsgpackHandle{}
	dec := codec.NewDecoder(r, &hd)
	return dec.Decode(out)
}

// EncodeMsgPack writes an encoded object to a new bytes buffer
func EncodeMsgPack(in interface{}) (*bytes.Buffer, error) {
	buf := bytes.NewBuffer(nil)
	hd := codec.MsgpackHandle{}
	enc := codec.NewEncoder(buf, &hd)
	err := enc.Encode(in)
	return buf, err
}
