package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carepulse/notify/internal/domain"
)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository returns a NotificationRepository backed by PostgreSQL.
func NewPgRepository(pool *pgxpool.Pool) NotificationRepository {
	return &pgRepository{pool: pool}
}

const notificationColumns = `
	id, type, channel, recipient, content, priority, status,
	attempts, max_attempts, errors, next_retry_at, scheduled_at,
	sent_at, delivered_at, provider_msg_id, tags, created_at, updated_at`

func (r *pgRepository) Create(ctx context.Context, n *domain.Notification) error {
	content, err := json.Marshal(n.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	// A nil slice marshals to JSON null, which the later jsonb array
	// appends cannot extend. Store an empty array instead.
	errList := n.Errors
	if errList == nil {
		errList = []domain.DeliveryError{}
	}
	errs, err := json.Marshal(errList)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, type, channel, recipient, content, priority, status,
			 attempts, max_attempts, errors, scheduled_at, tags, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		n.ID, n.Type, n.Channel, n.Recipient, content, n.Priority, n.Status,
		n.Attempts, n.MaxAttempts, errs, n.ScheduledAt, n.Tags, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *pgRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *pgRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`SELECT `+notificationColumns+` FROM notifications%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		notifications = append(notifications, n)
	}
	return notifications, total, rows.Err()
}

func (r *pgRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	return err
}

func (r *pgRepository) MarkSent(ctx context.Context, id, providerMsgID string, sentAt time.Time, delivered bool) error {
	status := domain.StatusSent
	var deliveredAt *time.Time
	if delivered {
		status = domain.StatusDelivered
		deliveredAt = &sentAt
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $1, provider_msg_id = $2, sent_at = $3, delivered_at = $4, updated_at = now()
		WHERE id = $5`, status, providerMsgID, sentAt, deliveredAt, id)
	return err
}

func (r *pgRepository) MarkFailed(ctx context.Context, id string, attempts int, derr domain.DeliveryError) error {
	entry, err := json.Marshal(derr)
	if err != nil {
		return fmt.Errorf("marshal delivery error: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'failed', attempts = $1,
		    errors = errors || $2::jsonb, updated_at = now()
		WHERE id = $3`, attempts, entry, id)
	return err
}

func (r *pgRepository) ScheduleRetry(ctx context.Context, id string, attempts int, nextRetry time.Time, derr domain.DeliveryError) error {
	entry, err := json.Marshal(derr)
	if err != nil {
		return fmt.Errorf("marshal delivery error: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'queued', attempts = $1, next_retry_at = $2,
		    errors = errors || $3::jsonb, updated_at = now()
		WHERE id = $4`, attempts, nextRetry, entry, id)
	return err
}

func (r *pgRepository) Cancel(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = 'cancelled', updated_at = now() WHERE id = $1`, id)
	return err
}

func (r *pgRepository) FindDueScheduled(ctx context.Context, now time.Time) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE status = 'scheduled' AND scheduled_at <= $1
		 ORDER BY scheduled_at ASC
		 LIMIT 500`, now)
	if err != nil {
		return nil, fmt.Errorf("find due scheduled: %w", err)
	}
	defer rows.Close()

	var due []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, n)
	}
	return due, rows.Err()
}

func (r *pgRepository) FindRecoverable(ctx context.Context) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE status IN ('queued','processing')
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("find recoverable: %w", err)
	}
	defer rows.Close()

	var stranded []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		stranded = append(stranded, n)
	}
	return stranded, rows.Err()
}

func (r *pgRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE status IN ('delivered','failed','cancelled') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n       domain.Notification
		content []byte
		errs    []byte
	)
	err := row.Scan(
		&n.ID, &n.Type, &n.Channel, &n.Recipient, &content, &n.Priority, &n.Status,
		&n.Attempts, &n.MaxAttempts, &errs, &n.NextRetryAt, &n.ScheduledAt,
		&n.SentAt, &n.DeliveredAt, &n.ProviderMsgID, &n.Tags, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(content, &n.Content); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &n.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal errors: %w", err)
		}
	}
	return &n, nil
}

func buildListWhere(f domain.ListFilter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Channel != nil {
		add("channel = $%d", *f.Channel)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}
