package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmehdipour/outreach/internal/config"
	"github.com/jmehdipour/outreach/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var (
	migrationsDir string
	migrateCH     bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQL migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.PoolOptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("open mysql: %w", err)
		}
		defer mysqlDB.Close()

		// MySQL files run whole; the DSN carries multiStatements=true.
		n, err := applyDir(ctx, mysqlDB, migrationsDir, false)
		if err != nil {
			return err
		}
		fmt.Printf(">> mysql: %d file(s) applied\n", n)

		if !migrateCH {
			return nil
		}
		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, db.PoolOptsFrom(cfg.ClickHouse))
		if err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		defer chDB.Close()

		// ClickHouse takes one statement per query.
		n, err = applyDir(ctx, chDB, filepath.Join(migrationsDir, "clickhouse"), true)
		if err != nil {
			return err
		}
		fmt.Printf(">> clickhouse: %d file(s) applied\n", n)
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "directory holding *.sql files")
	migrateCmd.Flags().BoolVar(&migrateCH, "clickhouse", false, "also apply <dir>/clickhouse/*.sql")
}

// applyDir executes every *.sql file of dir in lexical order.
func applyDir(ctx context.Context, conn *sqlx.DB, dir string, split bool) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			return 0, fmt.Errorf("read migration %s: %w", f, err)
		}
		stmts := []string{string(body)}
		if split {
			stmts = splitStatements(string(body))
		}
		for _, s := range stmts {
			if _, err := conn.ExecContext(ctx, s); err != nil {
				return 0, fmt.Errorf("exec %s: %w", f, err)
			}
		}
	}
	return len(files), nil
}

// splitStatements cuts a script on semicolons that end a line and drops
// comment-only chunks. Migrations never put ';' inside string literals.
func splitStatements(script string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		s := strings.TrimSpace(cur.String())
		cur.Reset()
		if s != "" && !commentOnly(s) {
			out = append(out, s)
		}
	}
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, ";") {
			cur.WriteString(strings.TrimSuffix(trimmed, ";"))
			flush()
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	return out
}

func commentOnly(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
