package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Iron-Ham/autostore/internal/model"
	"github.com/Iron-Ham/autostore/internal/store"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bots, bins, locks and orders",
	Long:  `Display the persisted state of the fleet: every bot, every bin with its lock, and recent orders.`,
	RunE:  runStatus,
}

var (
	statusJSON   bool
	statusOrders int
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
	statusCmd.Flags().IntVarP(&statusOrders, "orders", "n", 10, "Number of recent orders to show (0 for all)")
}

// fleetStatus is a point-in-time view of the store.
type fleetStatus struct {
	Bots   []model.Bot     `json:"bots"`
	Bins   []model.Bin     `json:"bins"`
	Locks  []model.BinLock `json:"locks"`
	Orders []model.Order   `json:"orders"`
	Counts map[string]int  `json:"order_counts"`
	Events int64           `json:"events"`
}

func loadStatus(st store.StoreInterface, recent int) (*fleetStatus, error) {
	bots, err := st.ListBots()
	if err != nil {
		return nil, err
	}
	bins, err := st.ListBins()
	if err != nil {
		return nil, err
	}
	locks, err := st.ListBinLocks()
	if err != nil {
		return nil, err
	}
	orders, err := st.ListOrders()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, o := range orders {
		counts[string(o.Status)]++
	}
	// newest first
	for i, j := 0, len(orders)-1; i < j; i, j = i+1, j-1 {
		orders[i], orders[j] = orders[j], orders[i]
	}
	if recent > 0 && len(orders) > recent {
		orders = orders[:recent]
	}

	return &fleetStatus{
		Bots:   bots,
		Bins:   bins,
		Locks:  locks,
		Orders: orders,
		Counts: counts,
		Events: st.CountEvents(),
	}, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openProvisionedStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	status, err := loadStatus(st, statusOrders)
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		return writeJSON(out, status)
	}
	printStatus(out, status, term.IsTerminal(int(os.Stdout.Fd())))
	return nil
}

// statusStyles holds the styles used by printStatus. Colors only render
// when the renderer's writer is a terminal.
type statusStyles struct {
	title  lipgloss.Style
	header lipgloss.Style
	cell   lipgloss.Style
	muted  lipgloss.Style
	border lipgloss.Border
	status map[string]lipgloss.Style
}

func newStatusStyles(w io.Writer, tty bool) statusStyles {
	r := lipgloss.NewRenderer(w)
	s := statusStyles{
		title:  r.NewStyle().Bold(true),
		header: r.NewStyle().Bold(true).Padding(0, 1),
		cell:   r.NewStyle().Padding(0, 1),
		muted:  r.NewStyle().Foreground(lipgloss.Color("245")),
		border: lipgloss.HiddenBorder(),
		status: make(map[string]lipgloss.Style),
	}
	if tty {
		s.border = lipgloss.RoundedBorder()
		s.header = s.header.Foreground(lipgloss.Color("39"))
	}
	green := r.NewStyle().Foreground(lipgloss.Color("42"))
	yellow := r.NewStyle().Foreground(lipgloss.Color("214"))
	blue := r.NewStyle().Foreground(lipgloss.Color("39"))
	for _, k := range []string{string(model.BotIdle), string(model.BinAvailable), string(model.OrderPacked)} {
		s.status[k] = green
	}
	for _, k := range []string{string(model.BotPacking), string(model.BinLocked), string(model.OrderPending), string(model.BinInTransit)} {
		s.status[k] = yellow
	}
	for _, k := range []string{
		string(model.BotMoving), string(model.BotCarrying), string(model.BotDelivering),
		string(model.BotReturning), string(model.BinInUse), string(model.BinDelivered),
	} {
		s.status[k] = blue
	}
	return s
}

func (s statusStyles) table(headers []string, rows [][]string, statusCol int) string {
	t := table.New().
		Border(s.border).
		BorderStyle(s.muted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			if col == statusCol && row >= 0 && row < len(rows) {
				if st, ok := s.status[rows[row][col]]; ok {
					return st.Padding(0, 1)
				}
			}
			return s.cell
		})
	return t.String()
}

func printStatus(w io.Writer, status *fleetStatus, tty bool) {
	s := newStatusStyles(w, tty)

	holders := make(map[int64]model.BinLock, len(status.Locks))
	for _, l := range status.Locks {
		holders[l.BinID] = l
	}

	fmt.Fprintln(w, s.title.Render(fmt.Sprintf("BOTS (%d)", len(status.Bots))))
	botRows := make([][]string, 0, len(status.Bots))
	for _, b := range status.Bots {
		botRows = append(botRows, []string{
			strconv.FormatInt(b.ID, 10),
			b.Name,
			b.Pos().String(),
			string(b.Status),
			idOrDash(b.AssignedOrderID),
			idOrDash(b.CarriedBinID),
			humanize.Time(b.UpdatedAt),
		})
	}
	fmt.Fprintln(w, s.table([]string{"ID", "NAME", "POS", "STATUS", "ORDER", "BIN", "UPDATED"}, botRows, 3))
	fmt.Fprintln(w)

	fmt.Fprintln(w, s.title.Render(fmt.Sprintf("BINS (%d)", len(status.Bins))))
	binRows := make([][]string, 0, len(status.Bins))
	for _, b := range status.Bins {
		holder, waiting := "-", "-"
		if l, ok := holders[b.ID]; ok {
			holder = idOrDash(l.HolderID)
			if len(l.Waiting) > 0 {
				ids := make([]string, len(l.Waiting))
				for i, id := range l.Waiting {
					ids[i] = strconv.FormatInt(id, 10)
				}
				waiting = strings.Join(ids, ",")
			}
		}
		binRows = append(binRows, []string{
			strconv.FormatInt(b.ID, 10),
			b.Pos().String(),
			b.Home.String(),
			string(b.Status),
			holder,
			waiting,
		})
	}
	fmt.Fprintln(w, s.table([]string{"ID", "POS", "HOME", "STATUS", "HOLDER", "WAITING"}, binRows, 3))
	fmt.Fprintln(w)

	total := 0
	for _, n := range status.Counts {
		total += n
	}
	fmt.Fprintln(w, s.title.Render(fmt.Sprintf("ORDERS (%s total: %d pending, %d packing, %d packed)",
		humanize.Comma(int64(total)),
		status.Counts[string(model.OrderPending)],
		status.Counts[string(model.OrderPacking)],
		status.Counts[string(model.OrderPacked)],
	)))
	if len(status.Orders) == 0 {
		fmt.Fprintln(w, s.muted.Render("No orders"))
	} else {
		orderRows := make([][]string, 0, len(status.Orders))
		for _, o := range status.Orders {
			done := 0
			for _, it := range o.Items {
				if it.Delivered {
					done++
				}
			}
			orderRows = append(orderRows, []string{
				strconv.FormatInt(o.ID, 10),
				string(o.Status),
				idOrDash(o.AssignedBotID),
				fmt.Sprintf("%d/%d", done, len(o.Items)),
				describeItems(o.Items),
				humanize.Time(o.CreatedAt),
			})
		}
		fmt.Fprintln(w, s.table([]string{"ID", "STATUS", "BOT", "DONE", "ITEMS", "CREATED"}, orderRows, 1))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, s.muted.Render(fmt.Sprintf("%s events logged", humanize.Comma(status.Events))))
}

func idOrDash(id int64) string {
	if id == 0 {
		return "-"
	}
	return strconv.FormatInt(id, 10)
}
