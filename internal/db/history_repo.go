package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"duepoint/internal/types"
)

// HistoryRepository provides data access for the delivery history tables.
// History is append-only: rows are inserted by the delivery unit and never
// updated or deleted. The two audiences write to parallel tables
// (client_delivery_history, subscriber_delivery_history) with identical
// schemas; the record's kind selects the table.
type HistoryRepository struct {
	db DBTX
}

// NewHistoryRepository creates a new HistoryRepository backed by the given
// database connection (pool or transaction).
func NewHistoryRepository(db DBTX) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func historyTable(kind types.TargetKind) (string, error) {
	switch kind {
	case types.KindClient:
		return "client_delivery_history", nil
	case types.KindSubscriber:
		return "subscriber_delivery_history", nil
	default:
		return "", types.NewAppError(types.ErrCodeValidationInvalidKind,
			fmt.Sprintf("unknown target kind %q", kind), nil)
	}
}

const historyColumns = `id, account_id, target_id, target_name, target_phone,
	        template_id, webhook_kind, request_payload, response_payload,
	        status_code, success, created_at`

// Record appends one delivery attempt row. The record carries name and phone
// snapshots so history survives target deletion. The ID and created_at are
// generated by the database and written back into the struct.
func (r *HistoryRepository) Record(ctx context.Context, rec *types.DeliveryRecord) error {
	table, err := historyTable(rec.Kind)
	if err != nil {
		return err
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO `+table+`
		 (account_id, target_id, target_name, target_phone, template_id,
		  webhook_kind, request_payload, response_payload, status_code, success)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at`,
		rec.AccountID,
		rec.TargetID,
		rec.TargetName,
		rec.TargetPhone,
		nilIfEmpty(rec.TemplateID),
		rec.WebhookKind,
		rec.RequestPayload,
		rec.ResponsePayload,
		rec.StatusCode,
		rec.Success,
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record delivery", err)
	}
	return nil
}

// List retrieves delivery history for one audience with filtering and
// cursor-based pagination over created_at, newest first. The filter's
// AccountID is always required; admin callers pass the account they are
// inspecting.
func (r *HistoryRepository) List(ctx context.Context, kind types.TargetKind, filter types.DeliveryHistoryFilter) ([]*types.DeliveryRecord, types.PageInfo, error) {
	table, err := historyTable(kind)
	if err != nil {
		return nil, types.PageInfo{}, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	conditions := []string{"account_id = $1"}
	args := []any{filter.AccountID}
	argIdx := 2

	if filter.TargetID != "" {
		conditions = append(conditions, fmt.Sprintf("target_id = $%d", argIdx))
		args = append(args, filter.TargetID)
		argIdx++
	}
	if filter.Success != nil {
		conditions = append(conditions, fmt.Sprintf("success = $%d", argIdx))
		args = append(args, *filter.Success)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}
	if filter.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, filter.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(
				types.ErrCodeValidationInvalidTime,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT `+historyColumns+`
		 FROM %s
		 WHERE %s
		 ORDER BY created_at DESC, id
		 LIMIT $%d`,
		table,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list delivery history", err)
	}
	defer rows.Close()

	var results []*types.DeliveryRecord
	for rows.Next() {
		rec, err := scanHistory(rows, kind)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan history row", err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating history rows", err)
	}

	pageInfo := types.PageInfo{}
	if len(results) > limit {
		results = results[:limit]
		pageInfo.HasMore = true
		pageInfo.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
	}
	pageInfo.Count = len(results)

	return results, pageInfo, nil
}

func scanHistory(row pgx.Row, kind types.TargetKind) (*types.DeliveryRecord, error) {
	var rec types.DeliveryRecord
	var templateID *string
	if err := row.Scan(
		&rec.ID,
		&rec.AccountID,
		&rec.TargetID,
		&rec.TargetName,
		&rec.TargetPhone,
		&templateID,
		&rec.WebhookKind,
		&rec.RequestPayload,
		&rec.ResponsePayload,
		&rec.StatusCode,
		&rec.Success,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	if templateID != nil {
		rec.TemplateID = *templateID
	}
	rec.Kind = kind
	return &rec, nil
}
