package db

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Connect opens the MySQL store and makes sure the schema database exists.
// The DSN points at the server without a database, e.g. "user:pass@tcp(host:3306)/".
func Connect(dsn string) (*gorm.DB, error) {
	bootstrap, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = bootstrap.Exec("CREATE DATABASE IF NOT EXISTS vpnshop CHARACTER SET utf8mb4 COLLATE utf8mb4_general_ci;").Error
	if err != nil {
		return nil, err
	}

	sqlDB, _ := bootstrap.DB()
	sqlDB.Close()

	// TranslateError turns driver duplicate-key errors into
	// gorm.ErrDuplicatedKey, which the redemption and accrual gates rely on.
	conn, err := gorm.Open(mysql.Open(dsn+"vpnshop?charset=utf8mb4&parseTime=True&loc=Local"),
		&gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Sync migrates the schema, including the uniqueness constraints that act as
// redemption and accrual gates.
func Sync(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&Account{},
		&Subscription{},
		&Payment{},
		&Promocode{},
		&PromocodeUsage{},
		&ReferralEntry{},
	)
}
