// Package migrations содержит схему базы данных auth-service для goose
package migrations

import "embed"

// Migrations SQL миграции, встроенные в бинарник
//
//go:embed *.sql
var Migrations embed.FS
