package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
)

var accountCols = []string{"id", "email", "pwd_hash", "salt_auth", "display_name", "photo_url", "pending_email", "created_at"}

func TestAccountRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	ctx := context.Background()
	a := &model.Account{
		ID:          uuid.Must(uuid.NewV4()),
		Email:       " Ana@Example.com",
		PwdHash:     []byte("h"),
		SaltAuth:    []byte("s"),
		DisplayName: "Ana Gil",
	}

	mock.ExpectExec(`INSERT INTO accounts \(id, email, pwd_hash, salt_auth, display_name, photo_url\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)`).
		WithArgs(a.ID, "ana@example.com", a.PwdHash, a.SaltAuth, "Ana Gil", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, a))

	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(a.ID, "ana@example.com", a.PwdHash, a.SaltAuth, "Ana Gil", "").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, a), errs.ErrEmailAlreadyInUse)

	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(a.ID, "ana@example.com", a.PwdHash, a.SaltAuth, "Ana Gil", "").
		WillReturnError(errors.New("conn reset"))
	err := r.Create(ctx, a)
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrEmailAlreadyInUse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, email, pwd_hash, salt_auth, display_name, photo_url, pending_email, created_at FROM accounts WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(accountCols).
			AddRow(id, "ana@example.com", []byte("h"), []byte("s"), "Ana", "", "", created))
	a, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, a.ID)
	require.Equal(t, created, a.CreatedAt)
	require.Equal(t, id.String(), a.Identity().SubjectID)

	mock.ExpectQuery(`FROM accounts WHERE id=\$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(`FROM accounts WHERE id=\$1`).
		WithArgs(id).
		WillReturnError(context.Canceled)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepo_GetByEmail_Normalizes(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM accounts WHERE email=\$1`).
		WithArgs("ana@example.com").
		WillReturnRows(pgxmock.NewRows(accountCols).
			AddRow(id, "ana@example.com", []byte("h"), []byte("s"), "", "", "", time.Now()))
	a, err := r.GetByEmail(context.Background(), "ANA@example.com ")
	require.NoError(t, err)
	require.Equal(t, "ana@example.com", a.Email)

	mock.ExpectQuery(`FROM accounts WHERE email=\$1`).
		WithArgs("bob@example.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByEmail(context.Background(), "bob@example.com")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAccountRepo_UpdateProfile(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	id := uuid.Must(uuid.NewV4())
	name := "Ana G."
	patch := model.AccountPatch{DisplayName: &name}

	mock.ExpectQuery(`UPDATE accounts SET display_name = COALESCE\(\$2, display_name\), photo_url = COALESCE\(\$3, photo_url\) WHERE id = \$1 RETURNING id, email`).
		WithArgs(id, patch.DisplayName, patch.PhotoURL).
		WillReturnRows(pgxmock.NewRows(accountCols).
			AddRow(id, "ana@example.com", []byte("h"), []byte("s"), name, "https://example.com/a.png", "", time.Now()))
	a, err := r.UpdateProfile(context.Background(), id, patch)
	require.NoError(t, err)
	require.Equal(t, name, a.DisplayName)
	require.Equal(t, "https://example.com/a.png", a.PhotoURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepo_SetPendingEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`UPDATE accounts SET pending_email = \$2 WHERE id = \$1`).
		WithArgs(id, "new@example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetPendingEmail(context.Background(), id, "New@Example.com"))

	mock.ExpectExec(`UPDATE accounts SET pending_email`).
		WithArgs(id, "new@example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.SetPendingEmail(context.Background(), id, "new@example.com"), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
