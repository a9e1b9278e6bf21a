package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/model"
	"github.com/Iron-Ham/autostore/internal/order"
	"github.com/Iron-Ham/autostore/internal/store"
	"github.com/spf13/cobra"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Create and inspect orders",
}

var orderCreateCmd = &cobra.Command{
	Use:   "create <sku[:qty]>...",
	Short: "Queue a new order",
	Long: `Queue a new pending order in the store. A running 'autostore serve'
assigns it on its next reconciliation pass.

Each argument names a product SKU with an optional quantity:
  autostore order create P1 P3:2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOrderCreate,
}

var orderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List orders",
	RunE:  runOrderList,
}

var orderShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one order",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrderShow,
}

var (
	orderJSON   bool
	orderStatus []string
)

func init() {
	rootCmd.AddCommand(orderCmd)
	orderCmd.AddCommand(orderCreateCmd)
	orderCmd.AddCommand(orderListCmd)
	orderCmd.AddCommand(orderShowCmd)

	orderCmd.PersistentFlags().BoolVar(&orderJSON, "json", false, "Output as JSON")
	orderListCmd.Flags().StringSliceVar(&orderStatus, "status", nil, "Only orders with these statuses (pending, packing, packed)")
}

// parseItems turns "SKU" or "SKU:QTY" arguments into order items.
func parseItems(args []string) ([]model.OrderItem, error) {
	items := make([]model.OrderItem, 0, len(args))
	for _, arg := range args {
		sku, qty, found := strings.Cut(arg, ":")
		it := model.OrderItem{ProductRef: strings.TrimSpace(sku), Quantity: 1}
		if found {
			n, err := strconv.Atoi(qty)
			if err != nil {
				return nil, fmt.Errorf("invalid quantity in %q: expected integer", arg)
			}
			it.Quantity = n
		}
		items = append(items, it)
	}
	if err := order.ValidateItems(items); err != nil {
		return nil, err
	}
	return items, nil
}

// queueOrder writes a pending order after checking every product exists.
func queueOrder(st store.StoreInterface, items []model.OrderItem) (model.Order, error) {
	for _, it := range items {
		if _, err := st.GetProduct(it.ProductRef); err != nil {
			if errors.IsNotFound(err) {
				return model.Order{}, fmt.Errorf("unknown product %q", it.ProductRef)
			}
			return model.Order{}, err
		}
	}
	now := time.Now()
	o := model.Order{
		Status:    model.OrderPending,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := st.CreateOrder(o)
	if err != nil {
		return model.Order{}, err
	}
	o.ID = id
	return o, nil
}

func runOrderCreate(cmd *cobra.Command, args []string) error {
	items, err := parseItems(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openProvisionedStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	o, err := queueOrder(st, items)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if orderJSON {
		return writeJSON(out, order.Result{OrderID: o.ID, Status: o.Status, Items: o.Items})
	}
	fmt.Fprintf(out, "Queued order %d (%s)\n", o.ID, describeItems(o.Items))
	return nil
}

func runOrderList(cmd *cobra.Command, args []string) error {
	statuses := make([]model.OrderStatus, 0, len(orderStatus))
	for _, s := range orderStatus {
		switch st := model.OrderStatus(strings.ToLower(s)); st {
		case model.OrderPending, model.OrderPacking, model.OrderPacked:
			statuses = append(statuses, st)
		default:
			return fmt.Errorf("invalid status %q: expected pending, packing or packed", s)
		}
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

	orders, err := st.ListOrders(statuses...)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if orderJSON {
		return writeJSON(out, orders)
	}
	if len(orders) == 0 {
		fmt.Fprintln(out, "No orders")
		return nil
	}
	for _, o := range orders {
		printOrderLine(out, o)
	}
	return nil
}

func runOrderShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q", args[0])
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

	o, err := st.GetOrder(id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if orderJSON {
		return writeJSON(out, o)
	}
	fmt.Fprintf(out, "Order %d\n", o.ID)
	fmt.Fprintf(out, "  Status:  %s\n", o.Status)
	if o.AssignedBotID != 0 {
		fmt.Fprintf(out, "  Bot:     %d\n", o.AssignedBotID)
	}
	fmt.Fprintf(out, "  Created: %s\n", o.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(out, "  Items:")
	for i, it := range o.Items {
		mark := " "
		if it.Delivered {
			mark = "x"
		}
		fmt.Fprintf(out, "    [%s] %d. %s x%d (bin %d)\n", mark, i+1, it.ProductRef, it.Quantity, it.BinID)
	}
	return nil
}

func printOrderLine(w io.Writer, o model.Order) {
	bot := "-"
	if o.AssignedBotID != 0 {
		bot = strconv.FormatInt(o.AssignedBotID, 10)
	}
	fmt.Fprintf(w, "%-6d %-8s bot=%-3s %s\n", o.ID, o.Status, bot, describeItems(o.Items))
}

func describeItems(items []model.OrderItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%s x%d", it.ProductRef, it.Quantity)
	}
	return strings.Join(parts, ", ")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
