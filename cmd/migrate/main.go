package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"signal_bot/migrations"
)

const defaultTable = "schema_migrations"

func ensureTable(ctx context.Context, conn *pgx.Conn, table string) error {
	_, err := conn.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name       text PRIMARY KEY,
    applied_at timestamptz NOT NULL DEFAULT now()
)`, pgx.Identifier{table}.Sanitize()))
	return errors.Wrap(err, "create migrations table")
}

func applied(ctx context.Context, conn *pgx.Conn, table string) (map[string]struct{}, error) {
	rows, err := conn.Query(ctx, fmt.Sprintf("SELECT name FROM %s", pgx.Identifier{table}.Sanitize()))
	if err != nil {
		return nil, errors.Wrap(err, "select applied migrations")
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan applied migrations")
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out, nil
}

func apply(ctx context.Context, conn *pgx.Conn, table string, m migrations.Migration) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return errors.Wrapf(err, "exec %s", m.Name)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (name) VALUES ($1)", pgx.Identifier{table}.Sanitize()), m.Name); err != nil {
		return errors.Wrapf(err, "mark %s", m.Name)
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

func run(ctx context.Context) error {
	viper.SetConfigName(".migrate")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetDefault("table", defaultTable)
	viper.SetDefault("timeout", "1m")
	_ = viper.BindEnv("dsn", "DATABASE_DSN")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "read .migrate.yaml")
		}
	}

	dsn := viper.GetString("dsn")
	if dsn == "" {
		return errors.New("dsn is empty: set it in .migrate.yaml or DATABASE_DSN")
	}
	table := viper.GetString("table")

	ctx, cancel := context.WithTimeout(ctx, viper.GetDuration("timeout"))
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if err := ensureTable(ctx, conn, table); err != nil {
		return err
	}
	done, err := applied(ctx, conn, table)
	if err != nil {
		return err
	}
	all, err := migrations.All()
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}

	for _, m := range all {
		if _, ok := done[m.Name]; ok {
			continue
		}
		if err := apply(ctx, conn, table, m); err != nil {
			return err
		}
		fmt.Printf("%s applied\n", m.Name)
	}
	fmt.Println("done")
	return nil
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}
