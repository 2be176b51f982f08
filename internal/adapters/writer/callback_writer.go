package writer

import (
	"context"
	"errors"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

// CallbackWriter hands the exported table to user code.
type CallbackWriter struct {
	name string
	fn   func(context.Context, domain.Table) error
}

func NewCallbackWriter(name string, fn func(context.Context, domain.Table) error) (*CallbackWriter, error) {
	if fn == nil {
		return nil, errors.New("callback writer requires a function")
	}
	if name == "" {
		name = "callback"
	}
	return &CallbackWriter{name: name, fn: fn}, nil
}

func (c *CallbackWriter) Name() string { return c.name }

func (c *CallbackWriter) Write(ctx context.Context, table domain.Table) error {
	if table.Empty() {
		return nil
	}
	return c.fn(ctx, table)
}

var _ ports.TableWriter = (*CallbackWriter)(nil)
