package channel

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// fakeDriver is a single process backend used to exercise the bookkeeping.
type fakeDriver struct {
	mu        sync.Mutex
	calls     map[string]int
	log       []Record
	pos       int64
	committed int64
	sent      []StatusMessage
	inbox     []StatusMessage
	openErr   error
	writeErrs []error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{calls: make(map[string]int)}
}

func (f *fakeDriver) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeDriver) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeDriver) CreateResources(context.Context) error { f.count("create"); return nil }
func (f *fakeDriver) DeleteResources(context.Context) error { f.count("delete"); return nil }
func (f *fakeDriver) Open(context.Context) error            { f.count("open"); return f.openErr }
func (f *fakeDriver) Close(context.Context) error           { f.count("close"); return nil }

func (f *fakeDriver) SendStatus(_ context.Context, msg StatusMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeDriver) PollStatus(context.Context) ([]StatusMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.inbox
	f.inbox = nil
	return msgs, nil
}

func (f *fakeDriver) deliver(msgs ...StatusMessage) {
	f.mu.Lock()
	f.inbox = append(f.inbox, msgs...)
	f.mu.Unlock()
}

func (f *fakeDriver) sentStatuses() []Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Status, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Status)
	}
	return out
}

func (f *fakeDriver) Seek(_ context.Context, policy OffsetPolicy) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch policy {
	case Earliest:
		f.pos = 0
	case Latest:
		f.pos = int64(len(f.log))
	default:
		f.pos = f.committed
	}
	return f.pos, nil
}

func (f *fakeDriver) Poll(ctx context.Context, max int) ([]Record, error) {
	f.mu.Lock()
	if f.pos < int64(len(f.log)) {
		end := min(f.pos+int64(max), int64(len(f.log)))
		out := append([]Record(nil), f.log[f.pos:end]...)
		f.pos = end
		f.mu.Unlock()
		return out, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeDriver) CommitOffset(_ context.Context, offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = offset
	return nil
}

func (f *fakeDriver) Write(ctx context.Context, records []Record) (OffsetsWritten, error) {
	f.mu.Lock()
	if len(f.writeErrs) > 0 {
		err := f.writeErrs[0]
		f.writeErrs = f.writeErrs[1:]
		f.mu.Unlock()
		return OffsetsWritten{}, err
	}
	first := int64(len(f.log))
	for i, r := range records {
		r.Offset = first + int64(i)
		f.log = append(f.log, r)
	}
	f.mu.Unlock()
	return OffsetsWritten{First: first, Last: first + int64(len(records)) - 1, Count: len(records)}, nil
}

func (f *fakeDriver) Flush(context.Context) error { f.count("flush"); return nil }

func testSpec(name, owner string) Spec {
	return Spec{
		Name:     name,
		Context:  owner,
		Pipeline: "p",
		Port:     "in",
		Logger:   zerolog.Nop(),
	}
}

func values(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{Value: []byte{byte(i)}}
	}
	return out
}
