// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/event-lottery/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrEventNotFound возвращается, если мероприятие не найдено.
var (
	ErrEventNotFound = errors.New("event not found")
	// ErrEventClosed возвращается при изменении закрытого мероприятия.
	ErrEventClosed = errors.New("event is closed")
	// ErrEntrantExists возвращается при повторной записи участника на мероприятие.
	ErrEntrantExists = errors.New("entrant already registered")
	// ErrEntrantNotFound возвращается, если участник не найден в нужном статусе.
	ErrEntrantNotFound = errors.New("entrant not found")
	// ErrWaitlistFull возвращается, если лист ожидания достиг лимита.
	ErrWaitlistFull = errors.New("waiting list is full")
	// ErrLotteryNotStarted возвращается, если для мероприятия ещё не было розыгрыша.
	ErrLotteryNotStarted = errors.New("lottery not started")
	// ErrConcurrentUpdate возвращается, если статусы участников изменились параллельно.
	ErrConcurrentUpdate = errors.New("entrant statuses changed concurrently")
)

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isRetryable(err) || i == len(retryDelays) {
			break
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

// isConnectionError распознаёт сбой установки соединения и ошибки, после
// которых pgx гарантирует, что запрос не дошёл до сервера.
func isConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateEvent создаёт мероприятие и возвращает его идентификатор.
func (r *PostgresRepository) CreateEvent(ctx context.Context, e model.Event) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO events (organizer_id, title, capacity, waitlist_limit) VALUES ($1, $2, $3, $4) RETURNING id`,
		string(e.OrganizerID), e.Title, e.Capacity, e.WaitlistLimit,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}
	return id, nil
}

// GetEvent возвращает мероприятие по идентификатору.
func (r *PostgresRepository) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	var (
		e         model.Event
		organizer string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, organizer_id, title, capacity, waitlist_limit, closed_at, created_at FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &organizer, &e.Title, &e.Capacity, &e.WaitlistLimit, &e.ClosedAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	e.OrganizerID = model.Candidate(organizer)
	return &e, nil
}

// CloseEvent закрывает мероприятие. Повторное закрытие ошибкой не считается.
func (r *PostgresRepository) CloseEvent(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE events SET closed_at = COALESCE(closed_at, now()) WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("close event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// lockOpenEvent блокирует строку мероприятия до конца транзакции и проверяет, что оно открыто.
func lockOpenEvent(ctx context.Context, tx pgx.Tx, eventID int64) (waitlistLimit int, err error) {
	var closedAt *time.Time
	err = tx.QueryRow(ctx,
		`SELECT waitlist_limit, closed_at FROM events WHERE id = $1 FOR UPDATE`,
		eventID,
	).Scan(&waitlistLimit, &closedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrEventNotFound
		}
		return 0, fmt.Errorf("lock event: %w", err)
	}
	if closedAt != nil {
		return 0, ErrEventClosed
	}
	return waitlistLimit, nil
}

// AddEntrant записывает участника в лист ожидания с учётом лимита мероприятия.
func (r *PostgresRepository) AddEntrant(ctx context.Context, e model.Entrant) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	limit, err := lockOpenEvent(ctx, tx, e.EventID)
	if err != nil {
		return err
	}

	if limit > 0 {
		var waiting int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM entrants WHERE event_id = $1 AND status = $2`,
			e.EventID, string(model.EntrantStatusWaiting),
		).Scan(&waiting)
		if err != nil {
			return fmt.Errorf("count waiting: %w", err)
		}
		if waiting >= limit {
			return ErrWaitlistFull
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO entrants (event_id, candidate_id, name, email, status) VALUES ($1, $2, $3, $4, $5)`,
		e.EventID, string(e.Candidate), e.Name, e.Email, string(model.EntrantStatusWaiting),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrEntrantExists, e.Candidate)
		}
		return fmt.Errorf("insert entrant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// RemoveWaitingEntrant удаляет участника, который ещё находится в листе ожидания.
func (r *PostgresRepository) RemoveWaitingEntrant(ctx context.Context, eventID int64, c model.Candidate) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM entrants WHERE event_id = $1 AND candidate_id = $2 AND status = $3`,
		eventID, string(c), string(model.EntrantStatusWaiting),
	)
	if err != nil {
		return fmt.Errorf("delete entrant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntrantNotFound
	}
	return nil
}

// ListEntrants возвращает участников мероприятия в порядке записи.
// Пустой список статусов означает всех участников.
func (r *PostgresRepository) ListEntrants(ctx context.Context, eventID int64, statuses ...model.EntrantStatus) ([]model.Entrant, error) {
	query := `SELECT event_id, candidate_id, name, email, status, joined_at, updated_at
		 FROM entrants
		 WHERE event_id = $1`
	args := []any{eventID}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` AND status = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY joined_at, candidate_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select entrants: %w", err)
	}
	defer rows.Close()

	var res []model.Entrant
	for rows.Next() {
		var (
			e         model.Entrant
			candidate string
			status    string
		)
		if err := rows.Scan(&e.EventID, &candidate, &e.Name, &e.Email, &status, &e.JoinedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entrant: %w", err)
		}
		e.Candidate = model.Candidate(candidate)
		e.Status = model.EntrantStatus(status)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetLotteryState возвращает сохранённое состояние розыгрыша мероприятия.
func (r *PostgresRepository) GetLotteryState(ctx context.Context, eventID int64) (*model.LotteryState, error) {
	var (
		st       model.LotteryState
		strategy string
		order    []string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT event_id, strategy, draw_order, drawn, updated_at FROM lottery_states WHERE event_id = $1`,
		eventID,
	).Scan(&st.EventID, &strategy, &order, &st.Drawn, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLotteryNotStarted
		}
		return nil, fmt.Errorf("get lottery state: %w", err)
	}

	st.Strategy = model.DrawStrategy(strategy)
	st.Order = make([]model.Candidate, len(order))
	for i, c := range order {
		st.Order[i] = model.Candidate(c)
	}
	return &st, nil
}

// SaveDraw атомарно сохраняет состояние розыгрыша, переводит приглашённых в статус INVITED
// и ставит в очередь уведомления о приглашении.
func (r *PostgresRepository) SaveDraw(ctx context.Context, st model.LotteryState, invited []model.Candidate) error {
	return r.withRetry(ctx, func() error {
		return r.saveDraw(ctx, st, invited)
	})
}

func (r *PostgresRepository) saveDraw(ctx context.Context, st model.LotteryState, invited []model.Candidate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockOpenEvent(ctx, tx, st.EventID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO lottery_states (event_id, strategy, draw_order, drawn, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (event_id) DO UPDATE
		 SET strategy = EXCLUDED.strategy, draw_order = EXCLUDED.draw_order,
		     drawn = EXCLUDED.drawn, updated_at = EXCLUDED.updated_at`,
		st.EventID, string(st.Strategy), candidateStrings(st.Order), st.Drawn,
	)
	if err != nil {
		return fmt.Errorf("upsert lottery state: %w", err)
	}

	if len(invited) > 0 {
		tag, err := tx.Exec(ctx,
			`UPDATE entrants SET status = $3, updated_at = now()
			 WHERE event_id = $1 AND candidate_id = ANY($2) AND status = $4`,
			st.EventID, candidateStrings(invited),
			string(model.EntrantStatusInvited), string(model.EntrantStatusWaiting),
		)
		if err != nil {
			return fmt.Errorf("mark invited: %w", err)
		}
		if tag.RowsAffected() != int64(len(invited)) {
			return fmt.Errorf("%w: invited %d, updated %d", ErrConcurrentUpdate, len(invited), tag.RowsAffected())
		}

		for _, c := range invited {
			if err := insertNotification(ctx, tx, st.EventID, c, model.NotificationInvited); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SaveResponse переводит приглашённого участника в итоговый статус и ставит уведомление в очередь.
func (r *PostgresRepository) SaveResponse(ctx context.Context, eventID int64, c model.Candidate, status model.EntrantStatus, kind model.NotificationKind) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		tag, err := tx.Exec(ctx,
			`UPDATE entrants SET status = $3, updated_at = now()
			 WHERE event_id = $1 AND candidate_id = $2 AND status = $4`,
			eventID, string(c), string(status), string(model.EntrantStatusInvited),
		)
		if err != nil {
			return fmt.Errorf("update entrant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s is not invited", ErrConcurrentUpdate, c)
		}

		if err := insertNotification(ctx, tx, eventID, c, kind); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func insertNotification(ctx context.Context, tx pgx.Tx, eventID int64, c model.Candidate, kind model.NotificationKind) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO notifications (id, event_id, candidate_id, kind) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), eventID, string(c), string(kind),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// PendingNotification описывает неотправленное уведомление вместе с названием мероприятия.
type PendingNotification struct {
	model.Notification
	EventTitle string
}

// GetPendingNotifications возвращает неотправленные уведомления, у которых не исчерпаны попытки.
func (r *PostgresRepository) GetPendingNotifications(ctx context.Context, limit, maxAttempts int) ([]PendingNotification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT n.id::text, n.event_id, n.candidate_id, n.kind, n.attempts, n.created_at, e.title
		 FROM notifications n
		 JOIN events e ON e.id = n.event_id
		 WHERE n.sent_at IS NULL AND n.attempts < $1
		 ORDER BY n.created_at
		 LIMIT $2`,
		maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending notifications: %w", err)
	}
	defer rows.Close()

	var res []PendingNotification
	for rows.Next() {
		var (
			p         PendingNotification
			id        string
			candidate string
			kind      string
		)
		if err := rows.Scan(&id, &p.EventID, &candidate, &kind, &p.Attempts, &p.CreatedAt, &p.EventTitle); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		p.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse notification id: %w", err)
		}
		p.Candidate = model.Candidate(candidate)
		p.Kind = model.NotificationKind(kind)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkNotificationSent отмечает уведомление доставленным.
func (r *PostgresRepository) MarkNotificationSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET sent_at = now(), attempts = attempts + 1 WHERE id = $1`,
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkNotificationFailed увеличивает счётчик неудачных попыток доставки.
func (r *PostgresRepository) MarkNotificationFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET attempts = attempts + 1 WHERE id = $1`,
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

func candidateStrings(cs []model.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}
