package sqlite

import "database/sql"

func RunMigrations(db *sql.DB) error {
	stmts := []string{

		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			gateway TEXT NOT NULL,
			is_active INTEGER NOT NULL,
			charge_status TEXT NOT NULL,
			token TEXT NOT NULL DEFAULT '',
			total TEXT NOT NULL,
			captured_amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			cc_first_digits TEXT NOT NULL DEFAULT '',
			cc_last_digits TEXT NOT NULL DEFAULT '',
			cc_brand TEXT NOT NULL DEFAULT '',
			cc_exp_month INTEGER NOT NULL DEFAULT 0,
			cc_exp_year INTEGER NOT NULL DEFAULT 0,
			customer_email TEXT NOT NULL DEFAULT '',
			customer_ip TEXT NOT NULL DEFAULT '',
			extra_data TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,

		`CREATE INDEX IF NOT EXISTS idx_payments_token ON payments (token);`,

		`CREATE TABLE IF NOT EXISTS payment_transactions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			payment_id TEXT NOT NULL REFERENCES payments (id),
			kind TEXT NOT NULL,
			is_success INTEGER NOT NULL,
			token TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			gateway_response BLOB NOT NULL,
			created_at DATETIME NOT NULL
		);`,

		`CREATE INDEX IF NOT EXISTS idx_payment_transactions_payment
			ON payment_transactions (payment_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
