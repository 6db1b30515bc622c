package gormx

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Run("sqlite with absolute path", func(t *testing.T) {
		db, err := Open(fmt.Sprintf("sqlite://%s", filepath.Join(t.TempDir(), "test.db")))
		require.NoError(t, err)
		require.NotNil(t, db)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := Open("redis://localhost")
		require.Error(t, err)
	})
}

func TestConvertSQLError(t *testing.T) {
	type model struct {
		ID   uint   `gorm:"primaryKey"`
		Name string `gorm:"uniqueIndex;size:64"`
	}

	db, err := Open(fmt.Sprintf("sqlite://%s", filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model{}))

	require.NoError(t, db.Create(&model{Name: "dup"}).Error)

	tx := db.Create(&model{Name: "dup"})
	require.Error(t, tx.Error)
	require.ErrorIs(t, ConvertSQLError(tx.Error), ErrUniqueConstraintFailed)
}

func TestGenerateID(t *testing.T) {
	var id string
	require.NoError(t, GenerateID(&id))
	require.NotEmpty(t, id)

	// existing IDs are kept
	keep := id
	require.NoError(t, GenerateID(&id))
	require.Equal(t, keep, id)
}
