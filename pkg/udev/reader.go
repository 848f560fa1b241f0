// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package udev

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	logger "github.com/intel/nvm-capacity/pkg/log"
)

// Event is a kernel uevent.
type Event struct {
	Header     string
	Subsystem  string
	Action     string
	Devpath    string
	Seqnum     string
	Properties map[string]string
}

const (
	PropertyAction    = "ACTION"
	PropertyDevpath   = "DEVPATH"
	PropertySubsystem = "SUBSYSTEM"
	PropertySeqnum    = "SEQNUM"
	PropertyDevtype   = "DEVTYPE"
)

var log = logger.Get("udev")

// Reader reads raw uevent data from a kobject uevent netlink socket.
type Reader struct {
	sock   int
	closed bool
}

// NewReader creates a reader bound to the kernel uevent multicast group.
func NewReader() (*Reader, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("failed to create uevent socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Pid:    uint32(os.Getpid()),
		Groups: 1,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd) // nolint:errcheck
		return nil, fmt.Errorf("failed to bind uevent socket: %w", err)
	}

	return &Reader{sock: fd}, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.EOF
	}

	n, err := unix.Read(r.sock, p)
	if n < 0 {
		n = 0
	}
	if err == unix.ENOBUFS {
		log.Warn("uevent socket ran out of buffer space, events were dropped")
		err = nil
	}
	if r.closed {
		return n, io.EOF
	}

	return n, err
}

// Close implements io.Closer.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return unix.Close(r.sock)
}

// EventReader decodes uevents from NUL-separated raw data.
type EventReader struct {
	r io.ReadCloser
	b *bufio.Reader
}

// NewEventReader creates an event reader for the kernel uevent socket.
func NewEventReader() (*EventReader, error) {
	r, err := NewReader()
	if err != nil {
		return nil, err
	}
	return NewEventReaderFromReader(r), nil
}

// NewEventReaderFromReader creates an event reader for raw data from r.
func NewEventReaderFromReader(r io.ReadCloser) *EventReader {
	return &EventReader{
		r: r,
		b: bufio.NewReader(r),
	}
}

// Read reads the next event, blocking until one is available. The SEQNUM
// property terminates an event.
func (r *EventReader) Read() (*Event, error) {
	hdr, err := r.b.ReadString(0)
	if err != nil {
		return nil, err
	}

	e := &Event{
		Header:     strings.TrimSuffix(hdr, "\x00"),
		Properties: map[string]string{},
	}

	for {
		next, err := r.b.ReadString(0)
		if err != nil {
			return nil, err
		}

		k, v, ok := strings.Cut(strings.TrimSuffix(next, "\x00"), "=")
		if !ok {
			return nil, fmt.Errorf("failed to read uevent: bad property %q", next)
		}
		e.Properties[k] = v

		switch k {
		case PropertyAction:
			e.Action = v
		case PropertyDevpath:
			e.Devpath = v
		case PropertySubsystem:
			e.Subsystem = v
		case PropertySeqnum:
			e.Seqnum = v
			return e, nil
		}
	}
}

// Close closes the underlying reader.
func (r *EventReader) Close() error {
	return r.r.Close()
}
