package store

import (
	"context"

	"github.com/buildbarn/bb-coordination/pkg/acl"
	"github.com/buildbarn/bb-coordination/pkg/persistence"
	"github.com/buildbarn/bb-coordination/pkg/tree"

	"google.golang.org/grpc/status"

	"go.opentelemetry.io/otel/attribute"
	otel_codes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type tracingStore struct {
	Store
	tracer trace.Tracer
}

// NewTracingStore is a decorator for Store that creates an
// OpenTelemetry trace span for every operation that is performed
// against the tree. Failures are recorded on the span, together with
// their gRPC status code.
func NewTracingStore(base Store, tracerProvider trace.TracerProvider) Store {
	return &tracingStore{
		Store:  base,
		tracer: tracerProvider.Tracer("github.com/buildbarn/bb-coordination/pkg/store"),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("grpc_code", status.Code(err).String()))
		span.SetStatus(otel_codes.Error, err.Error())
	}
	span.End()
}

func (s *tracingStore) Create(ctx context.Context, auth *acl.Authentication, request CreateRequest) (string, persistence.Stat, error) {
	ctxWithTracing, span := s.tracer.Start(ctx, "Store.Create", trace.WithAttributes(
		attribute.String("path", request.Path),
		attribute.Int("data_size_bytes", len(request.Data)),
		attribute.Bool("ephemeral", request.Ephemeral),
		attribute.Bool("sequential", request.Sequential),
	))
	path, stat, err := s.Store.Create(ctxWithTracing, auth, request)
	if err == nil {
		span.SetAttributes(attribute.String("created_path", path))
	}
	endSpan(span, err)
	return path, stat, err
}

func (s *tracingStore) Delete(ctx context.Context, auth *acl.Authentication, path string, version int32, recursive bool) (int, error) {
	ctxWithTracing, span := s.tracer.Start(ctx, "Store.Delete", trace.WithAttributes(
		attribute.String("path", path),
		attribute.Int("version", int(version)),
		attribute.Bool("recursive", recursive),
	))
	count, err := s.Store.Delete(ctxWithTracing, auth, path, version, recursive)
	span.SetAttributes(attribute.Int("nodes_deleted", count))
	endSpan(span, err)
	return count, err
}

func (s *tracingStore) SetData(ctx context.Context, auth *acl.Authentication, path string, data []byte, version int32) (persistence.Stat, error) {
	ctxWithTracing, span := s.tracer.Start(ctx, "Store.SetData", trace.WithAttributes(
		attribute.String("path", path),
		attribute.Int("data_size_bytes", len(data)),
		attribute.Int("version", int(version)),
	))
	stat, err := s.Store.SetData(ctxWithTracing, auth, path, data, version)
	endSpan(span, err)
	return stat, err
}

func (s *tracingStore) SetACL(ctx context.Context, auth *acl.Authentication, path string, entries []acl.Entry, aclVersion int32) (persistence.Stat, error) {
	ctxWithTracing, span := s.tracer.Start(ctx, "Store.SetACL", trace.WithAttributes(
		attribute.String("path", path),
		attribute.Int("acl_entries", len(entries)),
		attribute.Int("acl_version", int(aclVersion)),
	))
	stat, err := s.Store.SetACL(ctxWithTracing, auth, path, entries, aclVersion)
	endSpan(span, err)
	return stat, err
}

func (s *tracingStore) Move(ctx context.Context, auth *acl.Authentication, path, destinationParent string, version int32) (string, error) {
	ctxWithTracing, span := s.tracer.Start(ctx, "Store.Move", trace.WithAttributes(
		attribute.String("path", path),
		attribute.String("destination_parent", destinationParent),
		attribute.Int("version", int(version)),
	))
	newPath, err := s.Store.Move(ctxWithTracing, auth, path, destinationParent, version)
	endSpan(span, err)
	return newPath, err
}

func (s *tracingStore) GetData(ctx context.Context, auth *acl.Authentication, path string, watcher tree.Watcher) ([]byte, persistence.Stat, error) {
	ctxWithTracing, span := s.tracer.Start(ctx, "Store.GetData", trace.WithAttributes(
		attribute.String("path", path),
		attribute.Bool("watch", watcher != nil),
	))
	data, stat, err := s.Store.GetData(ctxWithTracing, auth, path, watcher)
	endSpan(span, err)
	return data, stat, err
}

func (s *tracingStore) Exists(ctx context.Context, auth *acl.Authentication, path string, watcher tree.Watcher) (*persistence.Stat, error) {
	ctxWithTracing, span := s.tracer.Start(ctx, "Store.Exists", trace.WithAttributes(
		attribute.String("path", path),
		attribute.Bool("watch", watcher != nil),
	))
	stat, err := s.Store.Exists(ctxWithTracing, auth, path, watcher)
	span.SetAttributes(attribute.Bool("exists", stat != nil))
	endSpan(span, err)
	return stat, err
}

func (s *tracingStore) GetChildren(ctx context.Context, auth *acl.Authentication, path, condition string, watcher tree.Watcher) ([]string, persistence.Stat, error) {
	ctxWithTracing, span := s.tracer.Start(ctx, "Store.GetChildren", trace.WithAttributes(
		attribute.String("path", path),
		attribute.String("retrieval_condition", condition),
		attribute.Bool("watch", watcher != nil),
	))
	children, stat, err := s.Store.GetChildren(ctxWithTracing, auth, path, condition, watcher)
	span.SetAttributes(attribute.Int("children", len(children)))
	endSpan(span, err)
	return children, stat, err
}

func (s *tracingStore) GetACL(ctx context.Context, auth *acl.Authentication, path string) ([]acl.Entry, persistence.Stat, error) {
	ctxWithTracing, span := s.tracer.Start(ctx, "Store.GetACL", trace.WithAttributes(
		attribute.String("path", path),
	))
	entries, stat, err := s.Store.GetACL(ctxWithTracing, auth, path)
	endSpan(span, err)
	return entries, stat, err
}

func (s *tracingStore) Multi(ctx context.Context, auth *acl.Authentication, operations []Operation) ([]OperationResult, error) {
	ctxWithTracing, span := s.tracer.Start(ctx, "Store.Multi", trace.WithAttributes(
		attribute.Int("operations", len(operations)),
	))
	for i := range operations {
		span.AddEvent(operations[i].Kind.String(), trace.WithAttributes(
			attribute.String("path", operations[i].Path),
		))
	}
	results, err := s.Store.Multi(ctxWithTracing, auth, operations)
	endSpan(span, err)
	return results, err
}
