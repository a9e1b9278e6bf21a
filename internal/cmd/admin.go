package cmd

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/autostore/internal/model"
	"github.com/Iron-Ham/autostore/internal/store"
	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Repair fleet state in the store",
	Long: `Repair fleet state directly in the store.

These commands are meant for a stopped fleet. A running 'autostore serve'
repairs the same state on its next start.`,
}

var adminResetBotsCmd = &cobra.Command{
	Use:   "reset-bots",
	Short: "Return every bot to its parking cell as idle",
	Long: `Return every bot to its parking cell as idle, clearing its order,
carried bin and path. Orders that were being packed return to pending.`,
	Args: cobra.NoArgs,
	RunE: runAdminResetBots,
}

var adminResetBinsCmd = &cobra.Command{
	Use:   "reset-bins",
	Short: "Clear every bin lock and return bins home",
	Args:  cobra.NoArgs,
	RunE:  runAdminResetBins,
}

var adminClearOrdersCmd = &cobra.Command{
	Use:   "clear-orders",
	Short: "Delete every order",
	Args:  cobra.NoArgs,
	RunE:  runAdminClearOrders,
}

var adminForce bool

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminResetBotsCmd)
	adminCmd.AddCommand(adminResetBinsCmd)
	adminCmd.AddCommand(adminClearOrdersCmd)

	adminClearOrdersCmd.Flags().BoolVarP(&adminForce, "force", "f", false, "Skip the confirmation check")
}

// resetStoredBots parks every bot and requeues packing orders. It returns
// how many bots and orders changed.
func resetStoredBots(st store.StoreInterface, now time.Time) (bots, orders int, err error) {
	list, err := st.ListBots()
	if err != nil {
		return 0, 0, err
	}
	for _, b := range list {
		if b.Status == model.BotIdle && b.Pos() == b.Parking &&
			b.AssignedOrderID == 0 && b.CarriedBinID == 0 && len(b.Path) == 0 {
			continue
		}
		b.Status = model.BotIdle
		b.X, b.Y = b.Parking.X, b.Parking.Y
		b.AssignedOrderID = 0
		b.CarriedBinID = 0
		b.Path = nil
		b.FullPath = nil
		b.UpdatedAt = now
		if err := st.SaveBot(b); err != nil {
			return bots, orders, err
		}
		bots++
	}

	packing, err := st.ListOrders(model.OrderPacking)
	if err != nil {
		return bots, orders, err
	}
	for _, o := range packing {
		o.Status = model.OrderPending
		o.AssignedBotID = 0
		o.UpdatedAt = now
		if err := st.SaveOrder(o); err != nil {
			return bots, orders, err
		}
		orders++
	}
	return bots, orders, nil
}

// resetStoredBins drops every lock and sends bins home as available. It
// returns how many bins changed.
func resetStoredBins(st store.StoreInterface, now time.Time) (int, error) {
	if err := st.DeleteBinLocks(); err != nil {
		return 0, err
	}
	list, err := st.ListBins()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range list {
		if b.Status == model.BinAvailable && b.Pos() == b.Home && b.Z == b.HomeZ {
			continue
		}
		b.Status = model.BinAvailable
		b.X, b.Y, b.Z = b.Home.X, b.Home.Y, b.HomeZ
		b.UpdatedAt = now
		if err := st.SaveBin(b); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func runAdminResetBots(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	bots, orders, err := resetStoredBots(st, time.Now())
	if err != nil {
		return fmt.Errorf("failed to reset bots: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset %d bot(s); %d order(s) returned to pending\n", bots, orders)
	return nil
}

func runAdminResetBins(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	n, err := resetStoredBins(st, time.Now())
	if err != nil {
		return fmt.Errorf("failed to reset bins: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared all bin locks; %d bin(s) returned home\n", n)
	return nil
}

func runAdminClearOrders(cmd *cobra.Command, args []string) error {
	if !adminForce {
		return fmt.Errorf("this deletes every order; re-run with --force to confirm")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	n, err := st.ClearOrders()
	if err != nil {
		return fmt.Errorf("failed to clear orders: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d order(s)\n", n)
	return nil
}
