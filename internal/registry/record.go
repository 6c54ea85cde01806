package registry

import (
	"context"
	"time"

	datasource "github.com/hanpama/restygraph/internal/datasource"
	eventbus "github.com/hanpama/restygraph/internal/eventbus"
	events "github.com/hanpama/restygraph/internal/events"
	executor "github.com/hanpama/restygraph/internal/executor"
	language "github.com/hanpama/restygraph/internal/language"
	"github.com/hanpama/restygraph/internal/logging"
	schema "github.com/hanpama/restygraph/internal/schema"
	"go.uber.org/zap"
)

// Record is one compiled schema with the datasource clients it owns.
type Record struct {
	ID     int64
	Config Config

	source      *language.Schema
	schema      *schema.Schema
	exec        *executor.Executor
	datasources map[string]datasource.Datasource
}

// Schema returns the executable schema, including the introspection fields
// when they are enabled.
func (rec *Record) Schema() *schema.Schema { return rec.schema }

// Source returns the validated SDL AST.
func (rec *Record) Source() *language.Schema { return rec.source }

// Execute validates q against the schema and runs it. Every failure is
// reported inside the result.
func (rec *Record) Execute(ctx context.Context, q QueryRequest) *executor.ExecutionResult {
	start := time.Now()
	doc, gqlErrs := language.LoadQuery(rec.source, q.Query)
	opType := operationType(doc, q.OperationName)
	eventbus.Publish(ctx, events.GraphQLStart{SchemaID: rec.ID, Query: q.Query, OperationName: q.OperationName, OperationType: opType})

	var res *executor.ExecutionResult
	if len(gqlErrs) > 0 {
		res = validationResult(gqlErrs)
	} else {
		res = rec.exec.Execute(ctx, executor.Request{
			Document:      doc,
			OperationName: q.OperationName,
			Variables:     q.Variables,
		})
	}

	errs := make([]error, len(res.Errors))
	for i, e := range res.Errors {
		errs[i] = e
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		SchemaID:      rec.ID,
		Query:         q.Query,
		OperationName: q.OperationName,
		OperationType: opType,
		Errors:        errs,
		Duration:      time.Since(start),
	})
	return res
}

// Close releases every datasource client and joins their errors.
func (rec *Record) Close(ctx context.Context) error {
	err := closeAll(ctx, rec.datasources)
	if err != nil {
		logging.Logger().Warn("schema closed with errors", zap.Int64("schema", rec.ID), zap.Error(err))
	} else {
		logging.Logger().Info("schema closed", zap.Int64("schema", rec.ID))
	}
	eventbus.Publish(ctx, events.SchemaClosed{SchemaID: rec.ID, Err: err})
	return err
}

func validationResult(list language.ErrorList) *executor.ExecutionResult {
	errs := make([]executor.GraphQLError, 0, len(list))
	for _, e := range list {
		ge := executor.GraphQLError{Message: e.Message, Extensions: e.Extensions}
		for _, loc := range e.Locations {
			ge.Locations = append(ge.Locations, executor.Location{Line: loc.Line, Column: loc.Column})
		}
		errs = append(errs, ge)
	}
	return executor.ErrorResult(errs...)
}

func operationType(doc *language.QueryDocument, name string) string {
	if doc == nil {
		return ""
	}
	for _, op := range doc.Operations {
		if name == "" || op.Name == name {
			if op.Operation == "" {
				return "query"
			}
			return string(op.Operation)
		}
	}
	return ""
}
