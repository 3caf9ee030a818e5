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
	"fmt"

	"github.com/jackc/pgx/v5"
)

// sendBatchCountInserted executes every command in the batch and sums the
// affected row counts. With ON CONFLICT DO NOTHING commands this is the
// number of rows actually inserted.
func sendBatchCountInserted(
	ctx context.Context,
	send func(context.Context, *pgx.Batch) pgx.BatchResults,
	batch *pgx.Batch,
	operation string) (inserted int64, err error) {
	if batch == nil || batch.Len() == 0 {
		return 0, nil
	}

	br := send(ctx, batch)
	defer func() {
		if closeErr := br.Close(); closeErr != nil && err == nil {
			inserted = 0
			err = fmt.Errorf("%s batch close: %w", operation, closeErr)
		}
	}()

	for i := 0; i < batch.Len(); i++ {
		tag, execErr := br.Exec()
		if execErr != nil {
			return 0, fmt.Errorf("%s batch exec (command %d): %w", operation, i, execErr)
		}

		inserted += tag.RowsAffected()
	}

	return inserted, nil
}
