package user

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-user-identity/internal/types"
)

var userTestColumns = []string{
	"id", "username", "email", "full_name", "display_name", "profile_image_url",
	"password_hash", "password_salt", "provider", "provider_data", "additional_providers_data",
	"roles", "reset_password_token", "reset_password_expires_at", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PostgresUserRepo) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return mock, NewPostgresUserRepo(mock, logger)
}

func aliceRow(id uuid.UUID) *pgxmock.Rows {
	email := "alice@example.com"
	now := time.Now()
	return pgxmock.NewRows(userTestColumns).AddRow(
		id, "alice", &email, "Alice Smith", "Alice", "",
		"digest", "salt", "local", []byte(`{}`), []byte(`{}`),
		[]string{"user"}, (*string)(nil), (*time.Time)(nil), now, now,
	)
}

func TestPostgresUserRepo_FindOne(t *testing.T) {
	ctx := context.Background()

	t.Run("single term", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		id := uuid.New()

		mock.ExpectQuery(`SELECT (.+) FROM users WHERE username = \$1 LIMIT 1`).
			WithArgs("alice").
			WillReturnRows(aliceRow(id))

		u, err := repo.FindOne(ctx, Eq("username", "alice"))
		require.NoError(t, err)
		assert.Equal(t, id, u.ID)
		assert.Equal(t, "alice", u.Username)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("or branches become one select", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		id := uuid.New()

		mock.ExpectQuery(regexp.QuoteMeta(`((username = $1) OR (email = $2)) LIMIT 1`)).
			WithArgs("alice", "alice").
			WillReturnRows(aliceRow(id))

		u, err := repo.FindOne(ctx, Or(Eq("username", "alice"), Eq("email", "alice")))
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("provider identity paths map to jsonb operators", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		id := uuid.New()

		expected := `((provider = $1 AND provider_data->>'id' = $2) OR ` +
			`(additional_providers_data->'github'->>'id' = $3)) LIMIT 1`
		mock.ExpectQuery(regexp.QuoteMeta(expected)).
			WithArgs("github", "gh-123", "gh-123").
			WillReturnRows(aliceRow(id))

		q := Or(
			Query{Terms: map[string]string{
				"provider":        "github",
				"providerData.id": "gh-123",
			}},
			Eq("additionalProvidersData.github.id", "gh-123"),
		)
		_, err := repo.FindOne(ctx, q)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no match maps to ErrNotFound", func(t *testing.T) {
		mock, repo := newMockRepo(t)

		mock.ExpectQuery(`SELECT (.+) FROM users WHERE username = \$1 LIMIT 1`).
			WithArgs("ghost").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.FindOne(ctx, Eq("username", "ghost"))
		assert.ErrorIs(t, err, types.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown field is rejected before the query runs", func(t *testing.T) {
		_, repo := newMockRepo(t)

		_, err := repo.FindOne(ctx, Eq("password_hash", "x"))
		assert.Error(t, err)
	})
}

func TestPostgresUserRepo_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns id, timestamps and default roles", func(t *testing.T) {
		mock, repo := newMockRepo(t)

		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs(
				pgxmock.AnyArg(), "alice", pgxmock.AnyArg(), "", "", "",
				"digest", "salt", "local", pgxmock.AnyArg(),
				pgxmock.AnyArg(), []string{"user"}, pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		email := "alice@example.com"
		u, err := repo.Insert(ctx, &types.User{
			Username:     "alice",
			Email:        &email,
			Provider:     "local",
			PasswordHash: "digest",
			PasswordSalt: "salt",
		})
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, u.ID)
		assert.Equal(t, []string{"user"}, u.Roles)
		assert.False(t, u.CreatedAt.IsZero())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to ErrConflict", func(t *testing.T) {
		mock, repo := newMockRepo(t)

		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})

		_, err := repo.Insert(ctx, &types.User{Username: "alice", Provider: "local"})
		assert.ErrorIs(t, err, types.ErrConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepo_SetResetToken(t *testing.T) {
	ctx := context.Background()

	t.Run("overwrites the token pair", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		id := uuid.New()
		expires := time.Now().Add(time.Hour)

		mock.ExpectExec(regexp.QuoteMeta(`SET reset_password_token = $2`)).
			WithArgs(id, "token-hex", expires, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.SetResetToken(ctx, id, "token-hex", expires))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user maps to ErrNotFound", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		id := uuid.New()

		mock.ExpectExec(regexp.QuoteMeta(`SET reset_password_token = $2`)).
			WithArgs(id, "token-hex", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.SetResetToken(ctx, id, "token-hex", time.Now().Add(time.Hour))
		assert.ErrorIs(t, err, types.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepo_ConsumeResetToken(t *testing.T) {
	ctx := context.Background()

	t.Run("conditional update returns the updated row", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		id := uuid.New()
		now := time.Now()

		mock.ExpectQuery(regexp.QuoteMeta(`WHERE reset_password_token = $1 AND reset_password_expires_at > $4`)).
			WithArgs("token-hex", "newdigest", "newsalt", now).
			WillReturnRows(aliceRow(id))

		u, err := repo.ConsumeResetToken(ctx, "token-hex", "newdigest", "newsalt", now)
		require.NoError(t, err)
		assert.Equal(t, id, u.ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no qualifying row maps to ErrInvalidToken", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		now := time.Now()

		mock.ExpectQuery(regexp.QuoteMeta(`WHERE reset_password_token = $1`)).
			WithArgs("token-hex", "newdigest", "newsalt", now).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.ConsumeResetToken(ctx, "token-hex", "newdigest", "newsalt", now)
		assert.ErrorIs(t, err, types.ErrInvalidToken)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty token never reaches the store", func(t *testing.T) {
		mock, repo := newMockRepo(t)

		_, err := repo.ConsumeResetToken(ctx, "", "newdigest", "newsalt", time.Now())
		assert.ErrorIs(t, err, types.ErrInvalidToken)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepo_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the row", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		id := uuid.New()

		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id = $1`)).
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, repo.Delete(ctx, id))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row maps to ErrNotFound", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		id := uuid.New()

		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id = $1`)).
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := repo.Delete(ctx, id)
		assert.ErrorIs(t, err, types.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
