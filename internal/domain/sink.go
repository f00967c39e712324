package domain

import (
	"context"

	"github.com/hashicorp/go-multierror"
)

// MultiSink records a status to every sink, returning the combined errors.
type MultiSink []StatusSink

func (m MultiSink) Record(ctx context.Context, status JobStatus) error {
	var result error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, status); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
