// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"encoding/binary"
	"io"
	"net"
)

// fakeWSConn adapts a net.Conn stream into the wsConn interface by
// framing each WriteMessage/ReadMessage call with a 4-byte big-endian
// length prefix, since net.Pipe (unlike a real websocket) has no
// built-in message boundaries.
type fakeWSConn struct {
	conn net.Conn
}

func newWSPipe() (*fakeWSConn, *fakeWSConn) {
	a, b := net.Pipe()
	return &fakeWSConn{conn: a}, &fakeWSConn{conn: b}
}

func (f *fakeWSConn) WriteMessage(messageType int, data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := f.conn.Write(header[:]); err != nil {
		return err
	}
	_, err := f.conn.Write(data)
	return err
}

func (f *fakeWSConn) ReadMessage() (int, []byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(f.conn, header[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	data := make([]byte, size)
	if _, err := io.ReadFull(f.conn, data); err != nil {
		return 0, nil, err
	}
	return textMessage, data, nil
}

func (f *fakeWSConn) Close() error {
	return f.conn.Close()
}

var _ wsConn = (*fakeWSConn)(nil)
