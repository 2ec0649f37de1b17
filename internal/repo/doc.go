// Package repo — хранилище результатов оценки в PostgreSQL (pgx).
//
// Таблица anomalies: одна запись на EventID (UNIQUE), схема задаётся
// встроенными миграциями golang-migrate (Migrate).
package repo
