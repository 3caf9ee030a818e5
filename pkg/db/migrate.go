/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const schemaFile = "migrations/schema.sql"

// runMigrations applies the consolidated schema. Every statement is
// IF NOT EXISTS, so reapplying on startup is harmless.
func (db *DB) runMigrations(ctx context.Context) error {
	content, err := migrationsFS.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	statements := splitSQLStatements(string(content))

	db.logger.Info().Int("statement_count", len(statements)).Msg("Applying central store schema")

	for i, stmt := range statements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement %d: %w", i+1, err)
		}
	}

	return nil
}

// splitSQLStatements splits the schema on semicolons, discarding comments
// and blank fragments. The schema holds no function bodies, so a plain
// semicolon split is sufficient.
func splitSQLStatements(content string) []string {
	var statements []string

	for _, raw := range strings.Split(content, ";") {
		var lines []string

		for _, line := range strings.Split(raw, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}

			lines = append(lines, trimmed)
		}

		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}

	return statements
}
