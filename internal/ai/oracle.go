package ai

import (
	"context"
)

// Oracle is a language-model endpoint that answers a system/user prompt pair with free-form
// text which is expected, but not guaranteed, to contain one JSON object.
type Oracle interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, model, system, user string) (string, error)

func (f OracleFunc) Complete(ctx context.Context, model, system, user string) (string, error) {
	return f(ctx, model, system, user)
}
