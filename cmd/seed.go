package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmehdipour/outreach/internal/config"
	"github.com/jmehdipour/outreach/internal/db"
	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCount int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo owners, accounts, channels and recipients",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.PoolOptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> seeding demo data...")

		if err := seedOwners(sqlDB); err != nil {
			return err
		}
		if err := seedAccountsAndChannels(sqlDB); err != nil {
			return err
		}
		if err := seedRecipients(sqlDB, seedCount); err != nil {
			return err
		}

		log.Println(">> seed completed")
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "recipients", 200, "demo recipients per active owner")
}

// seedOwners inserts deterministic demo owners (idempotent on api_key).
func seedOwners(dbx *sqlx.DB) error {
	owners := []model.Owner{
		{Name: "Acme Growth", APIKey: "11111111111111111111111111111111", Status: "active", RateLimitRPS: intptr(20)},
		{Name: "Beta Community", APIKey: "22222222222222222222222222222222", Status: "active", RateLimitRPS: intptr(5)},
		{Name: "Suspended Inc", APIKey: "33333333333333333333333333333333", Status: "suspended"},
	}

	const q = `
INSERT INTO owners
    (name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name           = VALUES(name),
    status         = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at     = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	for _, o := range owners {
		if _, err := tx.Exec(q, o.Name, o.APIKey, o.Status, o.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert owner %q: %w", o.Name, err)
		}
	}
	return tx.Commit()
}

// seedAccountsAndChannels gives every active owner two accounts and one
// channel. Pacing columns take their table defaults.
func seedAccountsAndChannels(dbx *sqlx.DB) error {
	var ids []int64
	if err := dbx.Select(&ids, `SELECT id FROM owners WHERE status = 'active' ORDER BY id`); err != nil {
		return fmt.Errorf("list owners: %w", err)
	}

	for _, id := range ids {
		for i := 1; i <= 2; i++ {
			phone := fmt.Sprintf("+1555%03d%04d", id, i)
			if _, err := dbx.Exec(`
INSERT IGNORE INTO accounts (owner_id, phone, created_at, updated_at)
VALUES (?, ?, NOW(6), NOW(6))`, id, phone); err != nil {
				return fmt.Errorf("insert account %s: %w", phone, err)
			}
		}
		username := fmt.Sprintf("demo_channel_%d", id)
		if _, err := dbx.Exec(`
INSERT IGNORE INTO channels (owner_id, username, title, created_at)
VALUES (?, ?, ?, NOW(6))`, id, username, "Demo channel"); err != nil {
			return fmt.Errorf("insert channel %s: %w", username, err)
		}
	}
	return nil
}

// seedRecipients adds n pending recipients per active owner with normalized refs.
func seedRecipients(dbx *sqlx.DB, n int) error {
	var ids []int64
	if err := dbx.Select(&ids, `SELECT id FROM owners WHERE status = 'active' ORDER BY id`); err != nil {
		return fmt.Errorf("list owners: %w", err)
	}

	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		for i := 0; i < n; i++ {
			ref := util.NormalizeRef(fmt.Sprintf("@demo_user_%d_%04d", id, i))
			if ref == "" {
				continue
			}
			if _, err := tx.Exec(`
INSERT IGNORE INTO recipients (owner_id, ref, name, created_at)
VALUES (?, ?, ?, NOW(6))`, id, ref, fmt.Sprintf("Demo User %d", i)); err != nil {
				return fmt.Errorf("insert recipient %s: %w", ref, err)
			}
		}
	}
	return tx.Commit()
}

func intptr(i int) *int { return &i }
