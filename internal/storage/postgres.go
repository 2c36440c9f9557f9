package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	logx "challengebot/pkg/logx"

	_ "github.com/lib/pq"
)

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for the postgres driver")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &sqlStore{db: db, d: dialect{name: "postgres", migrations: "postgres", dollar: true}, log: log}
	if err := st.migrate(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", "postgres"))
	return st, nil
}
