package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"form-payment-svc/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Database connection established",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name))
	return db, nil
}

// Migrate creates the tables the service owns if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS forms (
		id VARCHAR(64) PRIMARY KEY,
		title TEXT NOT NULL,
		stripe_account_id VARCHAR(255) NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS pending_submissions (
		id UUID PRIMARY KEY,
		form_id VARCHAR(64) NOT NULL,
		submission_type VARCHAR(32) NOT NULL,
		encrypted_content TEXT NOT NULL DEFAULT '',
		verified_content TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		attachment_metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		id UUID PRIMARY KEY,
		form_id VARCHAR(64) NOT NULL,
		submission_type VARCHAR(32) NOT NULL,
		encrypted_content TEXT NOT NULL DEFAULT '',
		verified_content TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		attachment_metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id UUID PRIMARY KEY,
		pending_submission_id UUID NOT NULL,
		form_id VARCHAR(64) NOT NULL,
		email VARCHAR(255) NOT NULL,
		amount BIGINT NOT NULL CHECK (amount >= 0),
		payment_intent_id VARCHAR(255) NOT NULL,
		target_account_id VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		charge_id_latest VARCHAR(255) NOT NULL DEFAULT '',
		responses JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments (status)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_email_form ON payments (email, form_id)`,
	`CREATE TABLE IF NOT EXISTS completed_payments (
		payment_id UUID PRIMARY KEY REFERENCES payments(id),
		submission_id UUID NOT NULL UNIQUE,
		payment_date TIMESTAMPTZ NOT NULL,
		transaction_fee BIGINT NOT NULL,
		receipt_url TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_payouts (
		payment_id UUID PRIMARY KEY REFERENCES payments(id),
		payout_id VARCHAR(255) NOT NULL,
		payout_date TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_webhook_events (
		payment_id UUID NOT NULL REFERENCES payments(id),
		seq INTEGER NOT NULL,
		event_id VARCHAR(255) NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		created BIGINT NOT NULL,
		payload JSONB NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (payment_id, seq),
		UNIQUE (payment_id, event_id)
	)`,
}
