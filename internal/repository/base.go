// Package repository provides the data access layer of the development backend.
package repository

import (
	"context"
	"errors"

	"discussify/internal/models"
	"discussify/internal/observability"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

func startSpan(ctx context.Context, db *gorm.DB, method, table string) (context.Context, trace.Span) {
	return observability.GetTraceLayer().TraceRepositoryMethod(ctx, db.Dialector.Name(), method, table)
}

// endSpan records err on span, ends it and returns err.
func endSpan(span trace.Span, err error) error {
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	return err
}

// notFound maps gorm.ErrRecordNotFound onto the application's not-found error.
func notFound(err error, resource, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return err
}
