package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pkgerrors "github.com/tabletopforge/storefront-backend/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:dbclient_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := NewFromGorm(db)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestWithTxOptions_SerializableCommits(t *testing.T) {
	db := newTestDB(t)
	client := NewFromGorm(db)

	err := client.WithTxOptions(context.Background(), Serializable(time.Second, 0, 0), func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "serial"}).Error
	})
	if err != nil {
		t.Fatalf("serializable tx failed: %v", err)
	}
}

func TestWithTxOptions_MapsSerializationFailureToConflict(t *testing.T) {
	client := NewFromGorm(newTestDB(t))

	err := client.WithTxOptions(context.Background(), TxOptions{}, func(tx *gorm.DB) error {
		return fmt.Errorf("update: %w", &pgconn.PgError{Code: "40001"})
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestWithTxOptions_KeepsTypedErrors(t *testing.T) {
	client := NewFromGorm(newTestDB(t))

	want := pkgerrors.New(pkgerrors.CodeValidation, "bad")
	err := client.WithTxOptions(context.Background(), TxOptions{}, func(tx *gorm.DB) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected typed error passthrough, got %v", err)
	}
}

func TestWithTxOptions_TimeoutIsConflict(t *testing.T) {
	client := NewFromGorm(newTestDB(t))

	err := client.WithTxOptions(context.Background(), TxOptions{Timeout: 10 * time.Millisecond}, func(tx *gorm.DB) error {
		<-tx.Statement.Context.Done()
		return tx.Statement.Context.Err()
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict on timeout, got %v", err)
	}
}

func TestIsTxConflict(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":           {err: nil, want: false},
		"serialization": {err: &pgconn.PgError{Code: "40001"}, want: true},
		"deadlock":      {err: &pgconn.PgError{Code: "40P01"}, want: true},
		"lock timeout":  {err: &pgconn.PgError{Code: "55P03"}, want: true},
		"deadline":      {err: context.DeadlineExceeded, want: true},
		"unique":        {err: &pgconn.PgError{Code: "23505"}, want: false},
	}
	for name, tc := range cases {
		if got := IsTxConflict(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v got %v", name, tc.want, got)
		}
	}
}

func TestPing(t *testing.T) {
	client := NewFromGorm(newTestDB(t))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}
