package auctiondb

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// SQLConfig holds database configuration.
type SQLConfig struct {
	Host               string `long:"host" description:"Database server hostname."`
	Port               int    `long:"port" description:"Database server port."`
	User               string `long:"user" description:"Database user."`
	Password           string `long:"password" description:"Database user's password."`
	DBName             string `long:"dbname" description:"Database name to use."`
	MaxOpenConnections int    `long:"maxconnections" description:"Max open connections to keep alive to the database server."`
	RequireSSL         bool   `long:"requiressl" description:"Whether to require using SSL (mode: require) when connecting to the server."`
}

// DSN returns the dsn to connect to the database. The password is replaced by
// asterisks if hidePassword is set, which is useful for logging.
func (s *SQLConfig) DSN(hidePassword bool) string {
	sslMode := "disable"
	if s.RequireSSL {
		sslMode = "require"
	}

	password := s.Password
	if hidePassword {
		password = "****"
	}

	return fmt.Sprintf(
		"user=%v password=%v dbname=%v host=%v port=%v sslmode=%v",
		s.User, password, s.DBName, s.Host, s.Port, sslMode,
	)
}

// SQLStore is the main object to communicate with the SQL db. It can be used
// as the primary store or as a mirror of the etcd store.
type SQLStore struct {
	db *gorm.DB

	initialized bool
}

// NewSQLStore constructs a new SQLStore.
func NewSQLStore(cfg *SQLConfig) (*SQLStore, error) {
	db, err := openPostgresDB(cfg)
	if err != nil {
		return nil, err
	}

	return &SQLStore{db: db}, nil
}

// openPostgresDB opens a PostreSQL database and initializes the tables
// corresponding to the SQL models defined in this package.
func openPostgresDB(cfg *SQLConfig) (*gorm.DB, error) {
	log.Infof("Opening postgres database: %v", cfg.DSN(true))

	db, err := gorm.Open(postgres.Open(cfg.DSN(false)), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDb, err := db.DB()
	if err != nil {
		return nil, err
	}

	var maxOpenConnections int
	if cfg.MaxOpenConnections != 0 {
		maxOpenConnections = cfg.MaxOpenConnections
	}
	sqlDb.SetMaxOpenConns(maxOpenConnections)

	if err := db.AutoMigrate(&SQLAuction{}, &SQLOrder{}); err != nil {
		return nil, err
	}

	return db, nil
}

// Init marks the store as initialized. The schema is migrated when the store
// is opened.
func (s *SQLStore) Init(context.Context) error {
	if s.initialized {
		return errAlreadyInitialized
	}
	s.initialized = true

	return nil
}

// Close closes the underlying database connection pool.
func (s *SQLStore) Close() error {
	sqlDb, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDb.Close()
}

// SQLTransaction is a higher level abstraction around the ORM provided sql
// transaction.
type SQLTransaction struct {
	tx *gorm.DB
}

// Transaction starts and attempts to commit an SQL transaction.
func (s *SQLStore) Transaction(ctx context.Context,
	apply func(tx *SQLTransaction) error) error {

	return s.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		sqlTx := &SQLTransaction{
			tx: dbTx,
		}
		return apply(sqlTx)
	})
}
