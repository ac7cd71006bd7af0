// Package graphqlapi wraps the graphql execution engine behind the two
// entrypoints the gateway needs: Execute for queries and mutations, and
// Subscribe for the subscription start path. Subscribe performs the protocol
// ordering the transport depends on: parse, operation-kind check, schema
// validation, then execution kickoff yielding a lazy result stream.
package graphqlapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"

	"github.com/scalableinternetservicesarchive/tindawg/subscriptions"
)

// Request is a query or mutation submitted to the /graphql endpoint.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the slog logger used by the engine.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// Engine executes operations against a fixed schema.
type Engine struct {
	schema graphql.Schema
	log    *slog.Logger
}

func NewEngine(schema graphql.Schema, opts ...Option) *Engine {
	e := &Engine{schema: schema, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a query or mutation. GraphQL-level errors are reported inside
// the result, never as a Go error.
func (e *Engine) Execute(ctx context.Context, req Request) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         e.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})
}

// Subscribe validates and begins execution of a subscription operation. It
// returns subscriptions.KindMismatchError when the operation is not a
// subscription and subscriptions.ValidationError when the document fails
// schema validation; the distinction drives how the failure is delivered to
// the client. The returned stream's producer observes ctx for teardown.
func (e *Engine) Subscribe(ctx context.Context, req subscriptions.StartRequest) (subscriptions.ResultStream, error) {
	src := source.NewSource(&source.Source{Body: []byte(req.Query), Name: "GraphQL request"})
	doc, err := parser.Parse(parser.ParseParams{Source: src})
	if err != nil {
		return nil, fmt.Errorf("parse operation: %w", err)
	}

	op := operationDefinition(doc, req.OperationName)
	if op == nil || op.Operation != ast.OperationTypeSubscription {
		got := "none"
		if op != nil {
			got = op.Operation
		}
		return nil, &subscriptions.KindMismatchError{Got: got}
	}

	if vr := graphql.ValidateDocument(&e.schema, doc, nil); !vr.IsValid {
		return nil, &subscriptions.ValidationError{Errors: vr.Errors}
	}

	ch := graphql.Subscribe(graphql.Params{
		Schema:         e.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})
	return &resultStream{ch: ch}, nil
}

// operationDefinition locates the operation the request names, or the first
// operation when no name is given.
func operationDefinition(doc *ast.Document, operationName string) *ast.OperationDefinition {
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if operationName == "" {
			return op
		}
		if op.Name != nil && op.Name.Value == operationName {
			return op
		}
	}
	return nil
}

// ExecutionError carries GraphQL errors raised while producing a
// subscription result.
type ExecutionError struct {
	Errors []gqlerrors.FormattedError
}

func (e *ExecutionError) Error() string {
	if len(e.Errors) > 0 && e.Errors[0].Message != "" {
		return e.Errors[0].Message
	}
	return "subscription execution failed"
}

// resultStream adapts the engine's result channel to the transport's lazy
// stream contract. Producer teardown happens through the subscribe context,
// which the dispatch loop cancels on any terminal transition.
type resultStream struct {
	ch <-chan *graphql.Result
}

func (s *resultStream) Next(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		if len(res.Errors) > 0 {
			return nil, &ExecutionError{Errors: res.Errors}
		}
		payload, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return payload, nil
	}
}

func (s *resultStream) Close() error { return nil }

var _ subscriptions.Executor = (*Engine)(nil)
