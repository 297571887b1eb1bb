package session

import (
	"context"
	"errors"
)

// Committer dispatches a finished transcript.
type Committer interface {
	Commit(context.Context, string) error
}

// CommitFunc adapts a function to the Committer interface.
type CommitFunc func(context.Context, string) error

func (f CommitFunc) Commit(ctx context.Context, transcript string) error {
	return f(ctx, transcript)
}

// Committers runs every committer in order and joins their failures.
type Committers []Committer

func (cs Committers) Commit(ctx context.Context, transcript string) error {
	var errs []error
	for _, c := range cs {
		if c == nil {
			continue
		}
		if err := c.Commit(ctx, transcript); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
