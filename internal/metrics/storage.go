package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/FranksOps/mailmark/internal/storage"
)

var _ storage.Backend = (*instrumented)(nil)

type instrumented struct {
	next storage.Backend
	name string
}

// InstrumentBackend wraps b so every Get and Set is timed under the given
// backend name.
func InstrumentBackend(name string, b storage.Backend) storage.Backend {
	return &instrumented{next: b, name: name}
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	v, err := i.next.Get(ctx, key)
	i.observe("get", start, err)
	return v, err
}

func (i *instrumented) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := i.next.Set(ctx, key, value)
	i.observe("set", start, err)
	return err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, storage.ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	StorageOpDuration.WithLabelValues(i.name, op, outcome).Observe(time.Since(start).Seconds())
}
