package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-user-identity/internal/types"
)

var _ UserRepo = (*PostgresUserRepo)(nil)

// Query is a structural lookup predicate: equality terms ANDed together,
// optionally combined with OR branches. Field names use dotted paths into
// the provider payloads ("providerData.id",
// "additionalProvidersData.github.id"); plain fields are "username",
// "email" and "provider". It is deliberately not a query language.
type Query struct {
	Terms map[string]string
	Or    []Query
}

// Eq builds a single-term query.
func Eq(field, value string) Query {
	return Query{Terms: map[string]string{field: value}}
}

// Or combines queries into one that matches when any branch matches.
func Or(queries ...Query) Query {
	return Query{Or: queries}
}

// UserRepo is the persistence contract every identity service consumes.
// Implementations must enforce uniqueness of username, email (sparse) and
// the provider linking key, reporting violations as types.ErrConflict;
// that constraint is the final authority under concurrent writes.
type UserRepo interface {
	// FindOne evaluates the whole predicate as a single atomic read.
	// Returns types.ErrNotFound when nothing matches.
	FindOne(ctx context.Context, q Query) (*types.User, error)

	FindByID(ctx context.Context, id uuid.UUID) (*types.User, error)

	// Insert persists a new record; the store assigns timestamps and, when
	// unset, the ID.
	Insert(ctx context.Context, u *types.User) (*types.User, error)

	// Update persists all mutable fields of an existing record.
	Update(ctx context.Context, u *types.User) (*types.User, error)

	// List and Delete back the administrative surface. Deletion is an
	// external administrative operation, never called by the core services.
	List(ctx context.Context) ([]types.User, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// SetResetToken overwrites the user's reset-token pair (last token wins).
	SetResetToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error

	// FindByValidResetToken matches an exact, non-empty token whose expiry
	// is strictly in the future. Unknown and expired both map to
	// types.ErrInvalidToken.
	FindByValidResetToken(ctx context.Context, token string, now time.Time) (*types.User, error)

	// ConsumeResetToken atomically clears the token pair and installs the
	// new credential in one conditional write, so concurrent consumers get
	// exactly one success. Returns types.ErrInvalidToken when no row
	// qualifies.
	ConsumeResetToken(ctx context.Context, token, newHash, newSalt string, now time.Time) (*types.User, error)
}

// PGXQuerier is the subset of pgxpool.Pool the repository needs; pgxmock
// satisfies it in tests.
type PGXQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresUserRepo struct {
	logger *slog.Logger
	db     PGXQuerier
}

func NewPostgresUserRepo(db PGXQuerier, logger *slog.Logger) *PostgresUserRepo {
	return &PostgresUserRepo{
		logger: logger,
		db:     db,
	}
}

const userColumns = `id, username, email, full_name, display_name, profile_image_url,
       password_hash, password_salt, provider, provider_data, additional_providers_data,
       roles, reset_password_token, reset_password_expires_at, created_at, updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var providerData, additionalData []byte
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.FullName, &u.DisplayName, &u.ProfileImageURL,
		&u.PasswordHash, &u.PasswordSalt, &u.Provider, &providerData, &additionalData,
		&u.Roles, &u.ResetPasswordToken, &u.ResetPasswordExpiresAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(providerData) > 0 {
		if err := json.Unmarshal(providerData, &u.ProviderData); err != nil {
			return nil, fmt.Errorf("decode provider_data: %w", err)
		}
	}
	if len(additionalData) > 0 {
		if err := json.Unmarshal(additionalData, &u.AdditionalProvidersData); err != nil {
			return nil, fmt.Errorf("decode additional_providers_data: %w", err)
		}
	}
	return &u, nil
}

// sqlForField translates a dotted predicate path into a column expression.
func sqlForField(field string) (string, error) {
	switch field {
	case "username":
		return "username", nil
	case "email":
		return "email", nil
	case "provider":
		return "provider", nil
	}
	parts := strings.Split(field, ".")
	switch {
	case len(parts) == 2 && parts[0] == "providerData":
		return fmt.Sprintf("provider_data->>'%s'", sanitizeJSONKey(parts[1])), nil
	case len(parts) == 3 && parts[0] == "additionalProvidersData":
		return fmt.Sprintf("additional_providers_data->'%s'->>'%s'",
			sanitizeJSONKey(parts[1]), sanitizeJSONKey(parts[2])), nil
	}
	return "", fmt.Errorf("unsupported query field %q", field)
}

// sanitizeJSONKey keeps provider names and identifier fields to a safe
// charset; they originate from configuration, not request input.
func sanitizeJSONKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return -1
	}, key)
}

func buildWhere(q Query, args *[]any) (string, error) {
	var clauses []string
	// Deterministic ordering keeps generated SQL stable for tests.
	for _, field := range sortedKeys(q.Terms) {
		col, err := sqlForField(field)
		if err != nil {
			return "", err
		}
		*args = append(*args, q.Terms[field])
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(*args)))
	}
	var orParts []string
	for _, sub := range q.Or {
		part, err := buildWhere(sub, args)
		if err != nil {
			return "", err
		}
		orParts = append(orParts, "("+part+")")
	}
	if len(orParts) > 0 {
		clauses = append(clauses, "("+strings.Join(orParts, " OR ")+")")
	}
	if len(clauses) == 0 {
		return "", errors.New("empty query predicate")
	}
	return strings.Join(clauses, " AND "), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func (r *PostgresUserRepo) FindOne(ctx context.Context, q Query) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "FindOne", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	var args []any
	where, err := buildWhere(q, &args)
	if err != nil {
		return nil, fmt.Errorf("find one: %w", err)
	}

	sql := fmt.Sprintf("SELECT %s FROM users WHERE %s LIMIT 1", userColumns, where)
	u, err := scanUser(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("find one: query failed: %w", err)
	}
	return u, nil
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, id uuid.UUID) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "FindByID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	sql := fmt.Sprintf("SELECT %s FROM users WHERE id = $1", userColumns)
	u, err := scanUser(r.db.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("find by id: query failed: %w", err)
	}
	return u, nil
}

func (r *PostgresUserRepo) Insert(ctx context.Context, u *types.User) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "Insert", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Insert"), slog.String("username", u.Username))

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	if len(u.Roles) == 0 {
		u.Roles = types.DefaultRoles()
	}

	providerData, additionalData, err := encodePayloads(u)
	if err != nil {
		return nil, err
	}

	_, err = r.db.Exec(ctx, `
        INSERT INTO users (id, username, email, full_name, display_name, profile_image_url,
                           password_hash, password_salt, provider, provider_data,
                           additional_providers_data, roles, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		u.ID, u.Username, u.Email, u.FullName, u.DisplayName, u.ProfileImageURL,
		u.PasswordHash, u.PasswordSalt, u.Provider, providerData,
		additionalData, u.Roles, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique violation
			l.WarnContext(ctx, "Insert hit unique constraint", slog.String("constraint", pgErr.ConstraintName))
			return nil, fmt.Errorf("insert user: %w", types.ErrConflict)
		}
		return nil, fmt.Errorf("insert user: db insert failed: %w", err)
	}
	return u, nil
}

func (r *PostgresUserRepo) Update(ctx context.Context, u *types.User) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "Update", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", u.ID.String()),
	))
	defer span.End()

	u.UpdatedAt = time.Now()

	providerData, additionalData, err := encodePayloads(u)
	if err != nil {
		return nil, err
	}

	tag, err := r.db.Exec(ctx, `
        UPDATE users
        SET username = $2, email = $3, full_name = $4, display_name = $5,
            profile_image_url = $6, password_hash = $7, password_salt = $8,
            provider = $9, provider_data = $10, additional_providers_data = $11,
            roles = $12, reset_password_token = $13, reset_password_expires_at = $14,
            updated_at = $15
        WHERE id = $1`,
		u.ID, u.Username, u.Email, u.FullName, u.DisplayName,
		u.ProfileImageURL, u.PasswordHash, u.PasswordSalt,
		u.Provider, providerData, additionalData,
		u.Roles, u.ResetPasswordToken, u.ResetPasswordExpiresAt,
		u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique violation
			return nil, fmt.Errorf("update user: %w", types.ErrConflict)
		}
		return nil, fmt.Errorf("update user: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, types.ErrNotFound
	}
	return u, nil
}

func (r *PostgresUserRepo) List(ctx context.Context) ([]types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "List", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	sql := fmt.Sprintf("SELECT %s FROM users ORDER BY created_at DESC", userColumns)
	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("list users: query failed: %w", err)
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: scan failed: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: rows error: %w", err)
	}
	return users, nil
}

func (r *PostgresUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "Delete", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", id.String()),
	))
	defer span.End()

	tag, err := r.db.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete user: db delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) SetResetToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "SetResetToken", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", id.String()),
	))
	defer span.End()

	tag, err := r.db.Exec(ctx, `
        UPDATE users
        SET reset_password_token = $2, reset_password_expires_at = $3, updated_at = $4
        WHERE id = $1`,
		id, token, expiresAt, time.Now())
	if err != nil {
		return fmt.Errorf("set reset token: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) FindByValidResetToken(ctx context.Context, token string, now time.Time) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "FindByValidResetToken", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	// An account with no active reset must never match an empty probe.
	if token == "" {
		return nil, types.ErrInvalidToken
	}

	sql := fmt.Sprintf(`SELECT %s FROM users
        WHERE reset_password_token = $1 AND reset_password_expires_at > $2`, userColumns)
	u, err := scanUser(r.db.QueryRow(ctx, sql, token, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrInvalidToken
		}
		return nil, fmt.Errorf("find by reset token: query failed: %w", err)
	}
	return u, nil
}

func (r *PostgresUserRepo) ConsumeResetToken(ctx context.Context, token, newHash, newSalt string, now time.Time) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "ConsumeResetToken", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	if token == "" {
		return nil, types.ErrInvalidToken
	}

	// Single conditional write: two concurrent consumers of the same token
	// get exactly one success, the other sees no qualifying row.
	sql := fmt.Sprintf(`
        UPDATE users
        SET password_hash = $2, password_salt = $3,
            reset_password_token = NULL, reset_password_expires_at = NULL,
            updated_at = $4
        WHERE reset_password_token = $1 AND reset_password_expires_at > $4
        RETURNING %s`, userColumns)
	u, err := scanUser(r.db.QueryRow(ctx, sql, token, newHash, newSalt, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrInvalidToken
		}
		return nil, fmt.Errorf("consume reset token: db update failed: %w", err)
	}
	return u, nil
}

func encodePayloads(u *types.User) ([]byte, []byte, error) {
	providerData, err := json.Marshal(orEmpty(u.ProviderData))
	if err != nil {
		return nil, nil, fmt.Errorf("encode provider_data: %w", err)
	}
	additional := u.AdditionalProvidersData
	if additional == nil {
		additional = map[string]map[string]any{}
	}
	additionalData, err := json.Marshal(additional)
	if err != nil {
		return nil, nil, fmt.Errorf("encode additional_providers_data: %w", err)
	}
	return providerData, additionalData, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
