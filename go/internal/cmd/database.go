package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/mcdev12/timesync/go/internal/config"
	"github.com/rs/zerolog/log"
)

func setupDatabase(store *config.Store) (*sql.DB, error) {
	dbConfig := store.Database()

	database, err := sql.Open("postgres", dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("connected to database")
	return database, nil
}
