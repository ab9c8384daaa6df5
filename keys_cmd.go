package main

import (
	"fmt"
	"strings"

	"endgame-arena/services"

	"github.com/spf13/cobra"
)

func keysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage agent API keys",
	}

	var (
		agentID string
		scopes  string
		label   string
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue an API key for an agent; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []string
			if scopes != "" {
				raw = strings.Split(scopes, ",")
			}
			parsed, err := services.ParseScopes(raw)
			if err != nil {
				return err
			}
			db, err := openDatabase()
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			issued, err := services.NewAPIKeyService(db).IssueKey(cmd.Context(), agentID, parsed, label, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), issued.Key)
			return nil
		},
	}
	issue.Flags().StringVar(&agentID, "agent", "", "agent ID")
	issue.Flags().StringVar(&scopes, "scopes", "", "comma separated scopes, all when empty")
	issue.Flags().StringVar(&label, "label", "operator", "key label")
	_ = issue.MarkFlagRequired("agent")

	cmd.AddCommand(issue)
	return cmd
}
