// Package document_repo provides PostgreSQL implementations for document repositories.
package document_repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain"
	"stockledger/internal/infrastructure/storage/postgres"
)

// BaseDocumentRepo provides common header operations for document entities.
type BaseDocumentRepo[T any] struct {
	txm        *postgres.TxManager
	batch      *postgres.BatchExecutor
	entityName string
	tableName  string
	selectCols []string
	newFn      func() T
}

// NewBaseDocumentRepo creates a new base document repository.
func NewBaseDocumentRepo[T any](
	txm *postgres.TxManager,
	entityName string,
	tableName string,
	selectCols []string,
	newFn func() T,
) *BaseDocumentRepo[T] {
	return &BaseDocumentRepo[T]{
		txm:        txm,
		batch:      postgres.NewBatchExecutor(),
		entityName: entityName,
		tableName:  tableName,
		selectCols: selectCols,
		newFn:      newFn,
	}
}

// Builder returns a new squirrel builder.
func (r *BaseDocumentRepo[T]) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// columns keeps only the mapped values that are real columns of the table.
func (r *BaseDocumentRepo[T]) columns(entity T, skip ...string) (map[string]any, error) {
	data := postgres.StructToMap(entity)
	if len(data) == 0 {
		return nil, fmt.Errorf("no db tags found in entity")
	}

	filtered := make(map[string]any, len(r.selectCols))
	for _, col := range r.selectCols {
		if slicesContains(skip, col) {
			continue
		}
		if val, ok := data[col]; ok {
			filtered[col] = val
		}
	}
	return filtered, nil
}

func slicesContains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Create inserts a new document header.
func (r *BaseDocumentRepo[T]) Create(ctx context.Context, uow tx.UnitOfWork, entity T) error {
	q, err := r.txm.MustQuerier(uow)
	if err != nil {
		return err
	}

	data, err := r.columns(entity)
	if err != nil {
		return err
	}

	sql, args, err := r.Builder().Insert(r.tableName).SetMap(data).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert %s: %w", r.tableName, err)
	}
	return nil
}

// updateQuery builds the version-guarded header update.
func (r *BaseDocumentRepo[T]) updateQuery(entity T) (squirrel.UpdateBuilder, id.ID, int, error) {
	data := postgres.StructToMap(entity)

	entityID, ok := data["id"].(id.ID)
	if !ok {
		return squirrel.UpdateBuilder{}, id.Nil(), 0, fmt.Errorf("entity has no 'id' field")
	}
	version, ok := data["version"].(int)
	if !ok {
		return squirrel.UpdateBuilder{}, id.Nil(), 0, fmt.Errorf("entity has no 'version' field or it is not an int")
	}

	// version/updated_at are managed by the repo; the rest is immutable
	filtered, err := r.columns(entity, "id", "created_at", "created_by", "version", "updated_at")
	if err != nil {
		return squirrel.UpdateBuilder{}, id.Nil(), 0, err
	}

	q := r.Builder().
		Update(r.tableName).
		SetMap(filtered).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": entityID}).
		Where(squirrel.Eq{"version": version})
	return q, entityID, version, nil
}

// Update writes the header with optimistic locking and bumps the in-memory
// version on success.
func (r *BaseDocumentRepo[T]) Update(ctx context.Context, uow tx.UnitOfWork, entity T) error {
	querier, err := r.txm.MustQuerier(uow)
	if err != nil {
		return err
	}

	q, entityID, version, err := r.updateQuery(entity)
	if err != nil {
		return err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", r.tableName, err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewConcurrentModification(r.entityName, entityID.String())
	}

	if v, ok := any(entity).(interface{ SetVersion(int) }); ok {
		v.SetVersion(version + 1)
	}
	return nil
}

// baseSelect creates a SELECT builder.
func (r *BaseDocumentRepo[T]) baseSelect() squirrel.SelectBuilder {
	return r.Builder().
		Select(r.selectCols...).
		From(r.tableName)
}

// GetByID retrieves a document header by ID.
func (r *BaseDocumentRepo[T]) GetByID(ctx context.Context, uow tx.UnitOfWork, entityID id.ID) (T, error) {
	entity := r.newFn()
	sql, args, err := r.baseSelect().Where(squirrel.Eq{"id": entityID}).ToSql()
	if err != nil {
		return entity, fmt.Errorf("build query: %w", err)
	}

	if err := pgxscan.Get(ctx, r.txm.Querier(uow), entity, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return entity, apperror.NewNotFound(r.entityName, entityID.String())
		}
		return entity, fmt.Errorf("get by id: %w", err)
	}
	return entity, nil
}

// page counts and fetches one page of q.
func (r *BaseDocumentRepo[T]) page(ctx context.Context, uow tx.UnitOfWork, q squirrel.SelectBuilder, filter domain.ListFilter) (domain.ListResult[T], error) {
	result := domain.ListResult[T]{
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	querier := r.txm.Querier(uow)

	countSQL, countArgs, err := r.Builder().Select("COUNT(*)").FromSelect(q, "sub").ToSql()
	if err != nil {
		return result, fmt.Errorf("build count: %w", err)
	}
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return result, fmt.Errorf("count: %w", err)
	}

	q, err = r.paginate(q, filter)
	if err != nil {
		return result, err
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return result, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, querier, &result.Items, sql, args...); err != nil {
		return result, fmt.Errorf("list: %w", err)
	}
	return result, nil
}

func (r *BaseDocumentRepo[T]) paginate(q squirrel.SelectBuilder, filter domain.ListFilter) (squirrel.SelectBuilder, error) {
	orderBy, err := r.parseOrderBy(filter.OrderBy)
	if err != nil {
		return q, err
	}
	q = q.OrderBy(orderBy, "number "+strings.Fields(orderBy)[1])

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	return q, nil
}

func (r *BaseDocumentRepo[T]) parseOrderBy(orderBy string) (string, error) {
	allowed := make(map[string]struct{}, len(r.selectCols))
	for _, col := range r.selectCols {
		allowed[col] = struct{}{}
	}

	if strings.TrimSpace(orderBy) == "" {
		return "date DESC", nil
	}

	direction := "ASC"
	field := orderBy
	if strings.HasPrefix(orderBy, "-") {
		direction = "DESC"
		field = strings.TrimPrefix(orderBy, "-")
	} else if strings.HasPrefix(orderBy, "+") {
		field = strings.TrimPrefix(orderBy, "+")
	}

	field = strings.TrimSpace(field)
	if field == "" {
		return "", apperror.NewValidation("invalid orderBy").WithDetail("orderBy", orderBy)
	}
	if _, ok := allowed[field]; !ok {
		return "", apperror.NewValidation("invalid orderBy").WithDetail("orderBy", orderBy).WithDetail("field", field)
	}

	return field + " " + direction, nil
}

// replaceLines swaps the table part of a document in one round-trip.
func (r *BaseDocumentRepo[T]) replaceLines(ctx context.Context, uow tx.UnitOfWork, linesTable string, docID id.ID, insert *squirrel.InsertBuilder) error {
	queries := []postgres.BatchQuery{{
		SQL:  "DELETE FROM " + linesTable + " WHERE document_id = $1",
		Args: []any{docID},
	}}

	if insert != nil {
		sql, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("build insert lines: %w", err)
		}
		queries = append(queries, postgres.BatchQuery{SQL: sql, Args: args})
	}

	if err := r.batch.ExecuteBatch(ctx, uow, queries); err != nil {
		return fmt.Errorf("save lines: %w", err)
	}
	return nil
}

// selectLines loads the table part of a document ordered by line number.
func selectLines[L any](ctx context.Context, q postgres.Querier, b squirrel.StatementBuilderType, linesTable string, cols []string, docID id.ID) ([]L, error) {
	sql, args, err := b.Select(cols...).
		From(linesTable).
		Where(squirrel.Eq{"document_id": docID}).
		OrderBy("line_no").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lines []L
	if err := pgxscan.Select(ctx, q, &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	return lines, nil
}
