package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS reservations (
	id VARCHAR(64) PRIMARY KEY,
	item_owner_uid VARCHAR(128) NOT NULL,
	renter_uid VARCHAR(128) NOT NULL,
	item_id VARCHAR(128) NOT NULL DEFAULT '',
	item_title VARCHAR(255) NOT NULL DEFAULT '',
	kind VARCHAR(32) NOT NULL DEFAULT 'rental',
	help_request_id VARCHAR(128) NOT NULL DEFAULT '',
	start_date VARCHAR(10) NOT NULL DEFAULT '',
	end_date VARCHAR(10) NOT NULL DEFAULT '',
	days INT NOT NULL DEFAULT 0,
	total VARCHAR(32) NOT NULL DEFAULT '',
	is_free BOOLEAN NOT NULL DEFAULT FALSE,
	payment_method_type VARCHAR(64) NULL,
	payment_ref VARCHAR(64) NOT NULL DEFAULT '',
	status VARCHAR(32) NOT NULL,
	accepted_by VARCHAR(128) NOT NULL DEFAULT '',
	rejected_by VARCHAR(128) NOT NULL DEFAULT '',
	picked_up_by VARCHAR(128) NOT NULL DEFAULT '',
	canceled_by VARCHAR(128) NOT NULL DEFAULT '',
	paid_out_by VARCHAR(128) NOT NULL DEFAULT '',
	returned_by VARCHAR(128) NOT NULL DEFAULT '',
	created_at_ms BIGINT NOT NULL DEFAULT 0,
	updated_at_ms BIGINT NOT NULL DEFAULT 0,
	accepted_at_ms BIGINT NOT NULL DEFAULT 0,
	rejected_at_ms BIGINT NOT NULL DEFAULT 0,
	paid_at_ms BIGINT NOT NULL DEFAULT 0,
	picked_up_at_ms BIGINT NOT NULL DEFAULT 0,
	canceled_at_ms BIGINT NOT NULL DEFAULT 0,
	paid_out_at_ms BIGINT NOT NULL DEFAULT 0,
	returned_at_ms BIGINT NOT NULL DEFAULT 0,
	reviews_open TEXT NOT NULL,
	hidden_for TEXT NOT NULL,
	version BIGINT NOT NULL DEFAULT 1
)`,
	`CREATE INDEX idx_reservations_owner ON reservations (item_owner_uid, kind)`,
	`CREATE INDEX idx_reservations_renter ON reservations (renter_uid, kind)`,
	`CREATE INDEX idx_reservations_status ON reservations (status, updated_at_ms)`,
	`CREATE TABLE IF NOT EXISTS watermarks (
	uid VARCHAR(128) NOT NULL,
	category VARCHAR(32) NOT NULL,
	last_seen_ms BIGINT NOT NULL,
	PRIMARY KEY (uid, category)
)`,
	`CREATE TABLE IF NOT EXISTS notify_tokens (
	user_id VARCHAR(128) NOT NULL,
	token VARCHAR(512) NOT NULL
)`,
}

// Migrate creates the tables the store needs. Index creation errors for
// indexes that already exist are ignored.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if isIndex(stmt) {
				continue
			}
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isIndex(stmt string) bool {
	return len(stmt) > 12 && stmt[:12] == "CREATE INDEX"
}
