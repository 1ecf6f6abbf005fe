// Package channel defines the data plane contract between operators and the
// messaging backends that connect them.
package channel

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Record is one unit of data moving through a channel.
type Record struct {
	Key       []byte            `json:"key,omitempty"`
	Value     []byte            `json:"value"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	// Offset is assigned by the backend on read.
	Offset int64 `json:"offset"`
}

// OffsetPolicy selects where a reader starts.
type OffsetPolicy int

const (
	// Stored resumes at the committed cursor, or the earliest offset when
	// nothing was committed.
	Stored OffsetPolicy = iota
	Earliest
	Latest
)

func (p OffsetPolicy) String() string {
	switch p {
	case Earliest:
		return "earliest"
	case Latest:
		return "latest"
	default:
		return "stored"
	}
}

func ParseOffsetPolicy(s string) (OffsetPolicy, error) {
	switch strings.ToLower(s) {
	case "", "stored":
		return Stored, nil
	case "earliest":
		return Earliest, nil
	case "latest":
		return Latest, nil
	}
	return Stored, fmt.Errorf("invalid offset policy %q", s)
}

type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// OffsetsWritten describes the backend offsets assigned to a successful write.
type OffsetsWritten struct {
	First int64
	Last  int64
	Count int
}

// Channel is the part of the contract shared by readers and writers.
type Channel interface {
	Name() string
	Port() string
	Direction() Direction
	CreateResources(ctx context.Context) error
	DeleteResources(ctx context.Context) error
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	IsOpen() bool
	// Heartbeat publishes liveness to the counterpart when due.
	Heartbeat(ctx context.Context)
	// ReportStatus must not block.
	ReportStatus() StatusRecord
}

// ErrorReporter is implemented by channels that can tell their counterparts
// about a failure of the owning operator.
type ErrorReporter interface {
	ReportError(ctx context.Context, cause error)
}

type Reader interface {
	Channel
	SetInitialOffset(ctx context.Context, policy OffsetPolicy) error
	Read(ctx context.Context, timeout time.Duration) ([]Record, error)
	Commit(ctx context.Context, offset int64) error
	CommitCurrentOffset(ctx context.Context) error
	ReadOffset() int64
	CommittedOffset() int64
	EndOfStream() bool
}

type Writer interface {
	Channel
	Write(ctx context.Context, records []Record) (OffsetsWritten, error)
	Flush(ctx context.Context) error
}

// Driver is what a backend implements. Bookkeeping that every backend shares
// lives in ReaderChannel and WriterChannel.
type Driver interface {
	CreateResources(ctx context.Context) error
	DeleteResources(ctx context.Context) error
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	// SendStatus publishes a message to the counterpart.
	SendStatus(ctx context.Context, msg StatusMessage) error
	// PollStatus returns counterpart messages not returned before.
	PollStatus(ctx context.Context) ([]StatusMessage, error)
}

type ReaderDriver interface {
	Driver
	// Seek positions the data cursor and returns the next offset to read.
	Seek(ctx context.Context, policy OffsetPolicy) (int64, error)
	// Poll returns at most max records. It returns early with no records once
	// ctx expires.
	Poll(ctx context.Context, max int) ([]Record, error)
	CommitOffset(ctx context.Context, offset int64) error
}

type WriterDriver interface {
	Driver
	// Write returns once the backend accepted the records durably.
	Write(ctx context.Context, records []Record) (OffsetsWritten, error)
	Flush(ctx context.Context) error
}

// DataTopic, WriterStatusTopic and ReaderStatusTopic name the backend
// resources behind a channel.
func DataTopic(name string) string { return name }

func WriterStatusTopic(name string) string { return name + ".output.state" }

func ReaderStatusTopic(name string) string { return name + ".input.state" }
