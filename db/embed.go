// Package db embeds the promotion engine schema.
package db

import _ "embed"

// Schema creates the promotion, coupon, conflict rule, usage and outbox
// tables. Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
