package repository

// Schema is applied in order at startup. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS ml_models (
		id                      TEXT PRIMARY KEY,
		name                    TEXT NOT NULL,
		model_type              TEXT NOT NULL,
		status                  TEXT NOT NULL DEFAULT 'pending',
		features                TEXT[] NOT NULL DEFAULT '{}',
		params                  JSONB NOT NULL DEFAULT '{}',
		target_var              TEXT NOT NULL DEFAULT '',
		target_operator         TEXT NOT NULL DEFAULT '',
		target_value            DOUBLE PRECISION NOT NULL DEFAULT 0,
		use_time_based          BOOLEAN NOT NULL DEFAULT FALSE,
		future_minutes          INTEGER NOT NULL DEFAULT 0,
		min_percent_change      DOUBLE PRECISION NOT NULL DEFAULT 0,
		direction               TEXT NOT NULL DEFAULT '',
		phases                  INTEGER[] NOT NULL DEFAULT '{}',
		use_engineered_features BOOLEAN NOT NULL DEFAULT FALSE,
		feature_windows         INTEGER[] NOT NULL DEFAULT '{}',
		use_ath_features        BOOLEAN NOT NULL DEFAULT FALSE,
		use_smote               BOOLEAN NOT NULL DEFAULT FALSE,
		use_timeseries_split    BOOLEAN NOT NULL DEFAULT FALSE,
		cv_splits               INTEGER NOT NULL DEFAULT 0,
		train_start             TIMESTAMPTZ NOT NULL,
		train_end               TIMESTAMPTZ NOT NULL,
		metrics                 JSONB,
		artifact_path           TEXT NOT NULL DEFAULT '',
		error_msg               TEXT NOT NULL DEFAULT '',
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS ml_models_status_idx ON ml_models (status, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS ml_jobs (
		id              TEXT PRIMARY KEY,
		job_type        TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		priority        INTEGER NOT NULL DEFAULT 0,
		progress        DOUBLE PRECISION NOT NULL DEFAULT 0,
		progress_msg    TEXT NOT NULL DEFAULT '',
		payload         JSONB NOT NULL DEFAULT '{}',
		result          JSONB,
		result_model_id TEXT NOT NULL DEFAULT '',
		error_msg       TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at      TIMESTAMPTZ,
		finished_at     TIMESTAMPTZ,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS ml_jobs_claim_idx ON ml_jobs (status, priority DESC, created_at)`,

	`CREATE TABLE IF NOT EXISTS prediction_active_models (
		id                        BIGSERIAL PRIMARY KEY,
		model_id                  TEXT NOT NULL,
		name                      TEXT NOT NULL,
		model_type                TEXT NOT NULL,
		features                  TEXT[] NOT NULL DEFAULT '{}',
		target_var                TEXT NOT NULL DEFAULT '',
		target_operator           TEXT NOT NULL DEFAULT '',
		target_value              DOUBLE PRECISION NOT NULL DEFAULT 0,
		use_time_based            BOOLEAN NOT NULL DEFAULT FALSE,
		future_minutes            INTEGER NOT NULL DEFAULT 0,
		min_percent_change        DOUBLE PRECISION NOT NULL DEFAULT 0,
		direction                 TEXT NOT NULL DEFAULT '',
		feature_windows           INTEGER[] NOT NULL DEFAULT '{}',
		use_engineered_features   BOOLEAN NOT NULL DEFAULT FALSE,
		use_ath_features          BOOLEAN NOT NULL DEFAULT FALSE,
		phases                    INTEGER[] NOT NULL DEFAULT '{}',
		is_active                 BOOLEAN NOT NULL DEFAULT FALSE,
		alert_threshold           DOUBLE PRECISION NOT NULL DEFAULT 0.7,
		send_mode                 TEXT[] NOT NULL DEFAULT '{all}',
		coin_filter_mode          TEXT NOT NULL DEFAULT 'all',
		coin_whitelist            TEXT[] NOT NULL DEFAULT '{}',
		min_scan_interval_seconds INTEGER NOT NULL DEFAULT 0,
		webhook_url               TEXT NOT NULL DEFAULT '',
		webhook_enabled           BOOLEAN NOT NULL DEFAULT FALSE,
		local_model_path          TEXT NOT NULL DEFAULT '',
		created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS predictions (
		id              BIGSERIAL PRIMARY KEY,
		active_model_id BIGINT NOT NULL,
		model_id        TEXT NOT NULL,
		coin_id         TEXT NOT NULL,
		prediction      SMALLINT NOT NULL,
		probability     DOUBLE PRECISION NOT NULL,
		data_timestamp  TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (active_model_id, coin_id, data_timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS predictions_coin_idx ON predictions (coin_id, data_timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS alert_evaluations (
		id                      BIGSERIAL PRIMARY KEY,
		prediction_id           BIGINT NOT NULL UNIQUE,
		active_model_id         BIGINT NOT NULL,
		model_id                TEXT NOT NULL,
		coin_id                 TEXT NOT NULL,
		predicted_label         SMALLINT NOT NULL,
		probability             DOUBLE PRECISION NOT NULL,
		direction               TEXT NOT NULL DEFAULT 'up',
		min_percent_change      DOUBLE PRECISION NOT NULL DEFAULT 0,
		alert_timestamp         TIMESTAMPTZ NOT NULL,
		evaluation_timestamp    TIMESTAMPTZ NOT NULL,
		price_at_alert          DOUBLE PRECISION,
		price_at_eval           DOUBLE PRECISION,
		chart_baseline_price    DOUBLE PRECISION,
		actual_price_change_pct DOUBLE PRECISION,
		status                  TEXT NOT NULL DEFAULT 'pending',
		evaluated_at            TIMESTAMPTZ,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS alert_evaluations_due_idx ON alert_evaluations (status, evaluation_timestamp)`,
	`CREATE INDEX IF NOT EXISTS alert_evaluations_coin_idx ON alert_evaluations (coin_id, alert_timestamp)`,
}
