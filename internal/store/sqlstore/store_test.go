package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"entadmin.org/internal/auth"
	"entadmin.org/internal/catalog"
)

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	s := New(sqlx.NewDb(db, "pgx"))
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

var userCols = []string{"id", "name", "email", "password_hash", "role", "avatar", "team_id", "created_at", "updated_at"}

func TestFindUserByEmail(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`from users where email = $1`)).
		WithArgs("ann@x.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u-1", "Ann", "ann@x.com", "$2a$10$digest", "staff", nil, nil, fixedNow, fixedNow))

	u, err := s.FindUserByEmail(context.Background(), "ann@x.com")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if u.ID != "u-1" || u.Role != auth.RoleStaff || u.PasswordHash != "$2a$10$digest" || u.Avatar != nil {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestFindUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`from users where id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.FindUserByID(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindUserDriverFailure(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("conn refused")
	mock.ExpectQuery("from users where email").WillReturnError(boom)

	_, err := s.FindUserByEmail(context.Background(), "a@x.com")
	if !errors.Is(err, boom) || errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestInsertUser(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into users").
		WithArgs(sqlmock.AnyArg(), "Ann", "ann@x.com", "digest", "customer", nil, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	u, err := s.InsertUser(context.Background(), auth.NewUser{Name: "Ann", Email: "ann@x.com", PasswordHash: "digest", Role: auth.RoleCustomer})
	if err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	if u.ID == "" || !u.CreatedAt.Equal(fixedNow) || u.Role != auth.RoleCustomer {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestInsertUserUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	_, err := s.InsertUser(context.Background(), auth.NewUser{Name: "Ann", Email: "ann@x.com", PasswordHash: "d", Role: auth.RoleCustomer})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestInsertUserOtherFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: "23514"})

	_, err := s.InsertUser(context.Background(), auth.NewUser{Name: "Ann", Email: "ann@x.com", PasswordHash: "d", Role: "bogus"})
	if err == nil || errors.Is(err, auth.ErrConflict) {
		t.Fatalf("check violation must not look like a conflict: %v", err)
	}
}

var productCols = []string{"id", "name", "description", "price", "category_id", "image_url", "stock", "created_at", "updated_at"}

func TestCreateProductOpensInventory(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into products").
		WithArgs(sqlmock.AnyArg(), "Desk", "", 99.5, nil, nil, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`insert into inventory (product_id, quantity, updated_at) values ($1, 0, $2)`)).
		WithArgs(sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	p, err := s.CreateProduct(context.Background(), catalog.ProductInput{Name: "Desk", Price: 99.5})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if p.ID == "" || p.Stock != 0 || p.Name != "Desk" {
		t.Fatalf("unexpected product: %+v", p)
	}
}

func TestCreateProductRollsBackOnInventoryFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into products").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into inventory").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := s.CreateProduct(context.Background(), catalog.ProductInput{Name: "Desk"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetProduct(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`where p.id = $1`)).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows(productCols).AddRow("p-1", "Desk", "oak", "499.00", nil, "https://img", 12, fixedNow, fixedNow))

	p, err := s.GetProduct(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.Price != 499 || p.Stock != 12 || p.ImageURL == nil || *p.ImageURL != "https://img" {
		t.Fatalf("unexpected product: %+v", p)
	}

	mock.ExpectQuery(`where p.id`).WithArgs("gone").WillReturnError(sql.ErrNoRows)
	if _, err := s.GetProduct(context.Background(), "gone"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMissingProduct(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update products").
		WithArgs("Desk", "", 1.0, nil, nil, fixedNow, "p-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := s.UpdateProduct(context.Background(), "p-9", catalog.ProductInput{Name: "Desk", Price: 1}); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteProduct(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from inventory").WithArgs("p-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from products").WithArgs("p-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	if err := s.DeleteProduct(context.Background(), "p-1"); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("delete from inventory").WithArgs("p-2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from products").WithArgs("p-2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	if err := s.DeleteProduct(context.Background(), "p-2"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
