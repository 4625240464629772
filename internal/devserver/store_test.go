package devserver

import (
	"context"
	"errors"
	"testing"

	"bulletin/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestStore_IsAdmin(t *testing.T) {
	tests := []struct {
		name     string
		caller   models.Identity
		mock     func(sqlmock.Sqlmock)
		want     bool
		wantCode string
	}{
		{
			name:   "anonymous makes no query",
			caller: models.Anonymous,
			mock:   func(sqlmock.Sqlmock) {},
			want:   false,
		},
		{
			name:   "administrator",
			caller: "root",
			mock: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`SELECT \* FROM "profiles"`).
					WillReturnRows(sqlmock.NewRows([]string{"identity", "username", "role"}).
						AddRow("root", "root", string(models.RoleAdministrator)))
			},
			want: true,
		},
		{
			name:   "unregistered",
			caller: "ghost",
			mock: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`SELECT \* FROM "profiles"`).
					WillReturnRows(sqlmock.NewRows([]string{"identity", "username", "role"}))
			},
			want: false,
		},
		{
			name:   "database failure is transient",
			caller: "root",
			mock: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`SELECT \* FROM "profiles"`).
					WillReturnError(errors.New("connection reset by peer"))
			},
			wantCode: models.CodeTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			tt.mock(mock)
			st := NewStore(db, nil)

			got, err := st.IsAdmin(context.Background(), tt.caller)
			if tt.wantCode != "" {
				assert.True(t, models.IsCode(err, tt.wantCode), "%v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_ListPostsFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "posts"`).WillReturnError(errors.New("too many connections"))

	_, err := NewStore(db, nil).ListPosts(context.Background())
	assert.True(t, models.IsCode(err, models.CodeTransient), "%v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SetRoleValidatesBeforeQuerying(t *testing.T) {
	db, mock := setupMockDB(t)

	err := NewStore(db, nil).SetRole(context.Background(), "root", "bob", models.Role("overlord"))
	assert.True(t, models.IsCode(err, models.CodeValidation), "%v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
