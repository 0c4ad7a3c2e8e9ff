package handlers

import (
	"errors"

	"github.com/go-sql-driver/mysql"

	"lankatrips/internal/models"
)

const (
	mysqlDuplicateEntry = 1062
	mysqlForeignKey     = 1452
)

// isForeignKeyConstraintError checks if the error corresponds to a MySQL/MariaDB
// foreign key constraint failure.
func isForeignKeyConstraintError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlForeignKey
}

func isDuplicateEntryError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// classifyDBError turns constraint failures into client errors.
func classifyDBError(err error) error {
	switch {
	case isForeignKeyConstraintError(err):
		return &models.Error{Kind: models.KindValidation, Message: "referenced record does not exist", Err: err}
	case isDuplicateEntryError(err):
		return &models.Error{Kind: models.KindValidation, Message: "record already exists", Err: err}
	}
	return err
}
