package executor

import (
	"context"

	"github.com/tarungka/opwire/channel"
)

// Logic is the processing code bound to an operator. It must implement
// Processor, Generator or both.
type Logic any

// Emitter sends records to the writers of an output port. Emit returns once
// every writer accepted the records.
type Emitter interface {
	Emit(ctx context.Context, port string, records ...channel.Record) error
}

// Processor handles one input record at a time. A record counts as
// acknowledged once Process returns nil.
type Processor interface {
	Process(ctx context.Context, port string, rec channel.Record, out Emitter) error
}

// Generator drives operators without inputs. It is called repeatedly until
// it reports done.
type Generator interface {
	Generate(ctx context.Context, out Emitter) (done bool, err error)
}

// Initializer runs at the end of OperationInit.
type Initializer interface {
	Init(ctx context.Context, c *Context) error
}

// Finalizer runs during OperationShutdown after channels closed.
type Finalizer interface {
	Finalize(ctx context.Context, c *Context) error
}
