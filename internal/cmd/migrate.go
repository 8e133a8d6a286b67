package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		sqlDB, err := openDatabase(cmd.Context(), dbPath)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		fmt.Printf("Database %s is up to date\n", dbPath)
		return nil
	},
}
