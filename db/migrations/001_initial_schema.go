package migrations

import (
	"database/sql"
)

func init() {
	RegisterMigration(&Migration{
		Version: 1,
		Name:    "initial_schema",
		Up:      initialSchemaUp,
		Down:    initialSchemaDown,
	})
}

func initialSchemaUp(tx *sql.Tx) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		external_id VARCHAR(255) UNIQUE NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		key_hash VARCHAR(64) UNIQUE NOT NULL,
		prefix VARCHAR(16) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_used_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX idx_api_keys_user_id ON api_keys(user_id);
	CREATE INDEX idx_api_keys_active ON api_keys(user_id) WHERE is_active;

	CREATE TABLE IF NOT EXISTS competitions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		description TEXT,
		initial_balance NUMERIC(28, 8) NOT NULL,
		fee_rate NUMERIC(28, 8) NOT NULL DEFAULT 0,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (end_time > start_time),
		CHECK (status IN ('pending', 'active', 'ended'))
	);

	CREATE INDEX idx_competitions_status ON competitions(status);

	CREATE TABLE IF NOT EXISTS participants (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		competition_id UUID NOT NULL REFERENCES competitions(id) ON DELETE CASCADE,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		balance NUMERIC(28, 8) NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (competition_id, user_id),
		CHECK (balance >= 0)
	);

	CREATE INDEX idx_participants_competition_id ON participants(competition_id);
	CREATE INDEX idx_participants_user_id ON participants(user_id);

	CREATE TABLE IF NOT EXISTS positions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
		code VARCHAR(20) NOT NULL,
		quantity NUMERIC(28, 8) NOT NULL,
		avg_buy_price NUMERIC(28, 8) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (participant_id, code),
		CHECK (quantity >= 0)
	);

	CREATE INDEX idx_positions_participant_id ON positions(participant_id);

	CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
		code VARCHAR(20) NOT NULL,
		side VARCHAR(4) NOT NULL CHECK (side IN ('buy', 'sell')),
		order_type VARCHAR(10) NOT NULL CHECK (order_type IN ('market', 'limit')),
		quantity NUMERIC(28, 8) NOT NULL CHECK (quantity > 0),
		price NUMERIC(28, 8),
		filled_quantity NUMERIC(28, 8) NOT NULL DEFAULT 0,
		filled_price NUMERIC(28, 8),
		fee NUMERIC(28, 8) NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		filled_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		CHECK (status IN ('pending', 'filled', 'cancelled')),
		CHECK (order_type = 'market' OR price IS NOT NULL)
	);

	CREATE INDEX idx_orders_participant_id ON orders(participant_id);
	CREATE INDEX idx_orders_pending_by_code ON orders(code, created_at) WHERE status = 'pending';

	CREATE TABLE IF NOT EXISTS trades (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		participant_id UUID NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
		code VARCHAR(20) NOT NULL,
		side VARCHAR(4) NOT NULL CHECK (side IN ('buy', 'sell')),
		price NUMERIC(28, 8) NOT NULL,
		quantity NUMERIC(28, 8) NOT NULL,
		total_amount NUMERIC(28, 8) NOT NULL,
		fee NUMERIC(28, 8) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX idx_trades_participant_id ON trades(participant_id);
	CREATE INDEX idx_trades_order_id ON trades(order_id);

	CREATE TABLE IF NOT EXISTS tick_archive (
		code VARCHAR(20) NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		trade_price NUMERIC(28, 8) NOT NULL,
		opening_price NUMERIC(28, 8),
		high_price NUMERIC(28, 8),
		low_price NUMERIC(28, 8),
		trade_volume NUMERIC(28, 8),
		acc_trade_volume_24h NUMERIC(28, 8),
		prev_closing_price NUMERIC(28, 8),
		acc_trade_volume NUMERIC(28, 8),
		acc_trade_price NUMERIC(28, 8),
		acc_trade_price_24h NUMERIC(28, 8),
		ask_bid VARCHAR(10),
		PRIMARY KEY (code, ts)
	);

	CREATE INDEX idx_tick_archive_code_ts ON tick_archive(code, ts DESC);
	`

	_, err := tx.Exec(schema)
	return err
}

func initialSchemaDown(tx *sql.Tx) error {
	schema := `
	DROP TABLE IF EXISTS tick_archive;
	DROP TABLE IF EXISTS trades;
	DROP TABLE IF EXISTS orders;
	DROP TABLE IF EXISTS positions;
	DROP TABLE IF EXISTS participants;
	DROP TABLE IF EXISTS competitions;
	DROP TABLE IF EXISTS api_keys;
	DROP TABLE IF EXISTS users;
	`
	_, err := tx.Exec(schema)
	return err
}
