package postgres

// SQL for the record store, change feed and feed checkpoints.

const (
	queryTableExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = $1
		)
	`

	queryLoadModels = `
		SELECT key, definition
		FROM models
		ORDER BY key ASC
	`

	// LIMIT NULL means no limit.
	queryFindAll = `
		SELECT id, model_key, data, updated_at
		FROM records
		WHERE model_key = $1
		ORDER BY id ASC
		LIMIT $2
	`

	queryFindByIDField = `
		SELECT id, model_key, data, updated_at
		FROM records
		WHERE model_key = $1
		  AND id = ANY($2)
		ORDER BY id ASC
		LIMIT $3
	`

	// queryFindByField matches a scalar field value, or any element when the
	// field holds an array.
	queryFindByField = `
		SELECT id, model_key, data, updated_at
		FROM records
		WHERE model_key = $1
		  AND (
			data->>$2 = ANY($3)
			OR (
				jsonb_typeof(data->$2) = 'array'
				AND EXISTS (
					SELECT 1 FROM jsonb_array_elements_text(data->$2) AS elem
					WHERE elem = ANY($3)
				)
			)
		  )
		ORDER BY id ASC
		LIMIT $4
	`

	queryFindByIDs = `
		SELECT id, model_key, data, updated_at
		FROM records
		WHERE id = ANY($1)
		ORDER BY id ASC
	`

	// querySetOrigin tags the current transaction so the change capture
	// trigger can attribute the write to a cascade chain.
	querySetOrigin = `SELECT set_config('recalc.chain_id', $1, true), set_config('recalc.depth', $2, true)`

	queryMergeFields = `
		UPDATE records
		SET data = data || $2::jsonb, updated_at = $3
		WHERE id = $1
	`

	queryChangesAfter = `
		SELECT
			c.seq, c.model_key, c.record_id, c.changed_fields,
			COALESCE(c.chain_id, ''), c.depth, c.changed_at, r.data,
			c.previous, c.deleted
		FROM record_changes c
		LEFT JOIN records r ON r.id = c.record_id
		WHERE c.seq > $1
		ORDER BY c.seq ASC
		LIMIT $2
	`

	queryHeadSeq = `SELECT COALESCE(MAX(seq), 0) FROM record_changes`

	querySelectCheckpointForUpdate = `
		SELECT cursor
		FROM feed_checkpoints
		WHERE consumer = $1
		FOR UPDATE
	`

	queryInitCheckpointRow = `
		INSERT INTO feed_checkpoints (consumer, cursor, updated_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (consumer) DO NOTHING
	`

	queryUpdateCheckpoint = `
		UPDATE feed_checkpoints
		SET cursor = $1, updated_at = $2
		WHERE consumer = $3
	`

	queryReadCheckpoint = `SELECT cursor FROM feed_checkpoints WHERE consumer = $1`
)
