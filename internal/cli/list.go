package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored entities",
}

var listCapsulesCmd = &cobra.Command{
	Use:   "capsules",
	Short: "List capsules",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		capsules, err := db.ListCapsules(flagScope(), listLimit)
		if err != nil {
			return fmt.Errorf("list capsules: %w", err)
		}
		if len(capsules) == 0 {
			fmt.Println("No capsules.")
			return nil
		}
		for _, c := range capsules {
			intent := c.Intent
			if intent == "" {
				intent = "-"
			}
			fmt.Printf("%s  %-16s %-6s %s  %s\n",
				c.ID, c.Type, c.Status, fmtTS(c.OpenedAt), intent)
		}
		return nil
	},
}

var listObservationsCmd = &cobra.Command{
	Use:   "observations",
	Short: "List observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		obs, err := db.ListObservations(flagScope(), false, listLimit)
		if err != nil {
			return fmt.Errorf("list observations: %w", err)
		}
		if len(obs) == 0 {
			fmt.Println("No observations.")
			return nil
		}
		for _, o := range obs {
			preview := o.Content
			if len(preview) > 80 {
				preview = preview[:80] + "..."
			}
			fmt.Printf("%s  %-12s %s  %s\n", o.ID, o.Kind, fmtTS(o.Ts), preview)
		}
		return nil
	},
}

var listPinsCmd = &cobra.Command{
	Use:   "pins",
	Short: "List pins",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		pins, err := db.ListPins(flagScope())
		if err != nil {
			return fmt.Errorf("list pins: %w", err)
		}
		if len(pins) == 0 {
			fmt.Println("No pins.")
			return nil
		}
		now := time.Now().UnixMilli()
		for _, p := range pins {
			state := "active"
			if !p.ActiveAt(now) {
				state = "expired"
			}
			fmt.Printf("%s  %-11s %s  %-7s %s\n",
				p.ID, p.TargetType, p.TargetID, state, p.Reason)
		}
		return nil
	},
}

func fmtTS(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.AddCommand(listCapsulesCmd)
	listCmd.AddCommand(listObservationsCmd)
	listCmd.AddCommand(listPinsCmd)

	addScopeFlags(listCapsulesCmd)
	addScopeFlags(listObservationsCmd)
	addScopeFlags(listPinsCmd)
	listCapsulesCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum rows")
	listObservationsCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum rows")
}
