// Package migrations предоставляет встроенные goose-миграции для API.
package migrations

import "embed"

// Files содержит все .sql файлы из этой директории (goose применяет их по номеру версии).
//
//go:embed *.sql
var Files embed.FS
