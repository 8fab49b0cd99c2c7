// Package migrations はスキーママイグレーションSQLを埋め込みで提供する。
// SQLはMySQLとSQLiteの双方で実行できる構文に限定する。
package migrations

import "embed"

// FS はマイグレーションSQLファイル群。ファイル名は {version}_{name}.sql。
//
//go:embed *.sql
var FS embed.FS
