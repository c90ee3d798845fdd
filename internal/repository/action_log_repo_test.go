package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
)

func setupMockActionLogDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *ActionLogRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewActionLogRepository(db, zap.NewNop())
	return db, mock, repo
}

func sampleLog() domain.ActionLog {
	return domain.ActionLog{
		ID:            "1717406100000-0",
		UserID:        "u1",
		DeviceID:      "D1",
		Type:          domain.ActuatorFeed,
		Action:        domain.ActionDispense,
		VolumePercent: 20,
		Timestamp:     1717406100000,
		Date:          "06/03/2024",
		Time:          "17:15:00",
		DayOfWeek:     1,
	}
}

func TestActionLogRepository_EnsureSchema(t *testing.T) {
	db, mock, repo := setupMockActionLogDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS chickup_action_logs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActionLogRepository_Insert(t *testing.T) {
	db, mock, repo := setupMockActionLogDB(t)
	defer db.Close()

	l := sampleLog()
	mock.ExpectExec(`INSERT INTO chickup_action_logs`).
		WithArgs(l.ID, l.UserID, l.DeviceID, "feed", "dispense", 20.0, l.Timestamp, l.Date, l.Time, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), l))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActionLogRepository_InsertDuplicateIsNoop(t *testing.T) {
	db, mock, repo := setupMockActionLogDB(t)
	defer db.Close()

	mock.ExpectExec(`ON CONFLICT \(log_id\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Insert(context.Background(), sampleLog()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActionLogRepository_InsertRequiresIDs(t *testing.T) {
	db, mock, repo := setupMockActionLogDB(t)
	defer db.Close()

	l := sampleLog()
	l.ID = ""
	err := repo.Insert(context.Background(), l)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "log_id is required")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActionLogRepository_InsertError(t *testing.T) {
	db, mock, repo := setupMockActionLogDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO chickup_action_logs`).
		WillReturnError(errors.New("connection reset"))

	err := repo.Insert(context.Background(), sampleLog())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert action log")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActionLogRepository_ListByUser(t *testing.T) {
	db, mock, repo := setupMockActionLogDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"log_id", "user_id", "device_id", "type", "action",
		"volume_percent", "ts", "log_date", "log_time", "day_of_week",
	}).
		AddRow("1717406160000-0", "u1", "D1", "water", "refill", 70.0, int64(1717406160000), "06/03/2024", "17:16:00", 1).
		AddRow("1717406100000-0", "u1", "D1", "feed", "dispense", 20.0, int64(1717406100000), "06/03/2024", "17:15:00", 1)

	mock.ExpectQuery(`SELECT`).
		WithArgs("u1", 2).
		WillReturnRows(rows)

	logs, err := repo.ListByUser(context.Background(), "u1", 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.ActuatorWater, logs[0].Type)
	assert.Equal(t, domain.ActionRefill, logs[0].Action)
	assert.Equal(t, 70.0, logs[0].VolumePercent)
	assert.Equal(t, "1717406100000-0", logs[1].ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActionLogRepository_ListByUserNoLimit(t *testing.T) {
	db, mock, repo := setupMockActionLogDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"log_id"}))

	logs, err := repo.ListByUser(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	require.NoError(t, mock.ExpectationsWereMet())
}
