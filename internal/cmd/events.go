package cmd

import (
	"fmt"
	"io"

	"github.com/Iron-Ham/autostore/internal/model"
	"github.com/Iron-Ham/autostore/internal/store"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the persisted event log",
	Long: `Show events mirrored into the store by 'autostore serve': bot moves,
status updates, bin pickups, drops and returns.`,
	RunE: runEvents,
}

var (
	eventsSince  int64
	eventsLimit  int
	eventsKind   string
	eventsEntity string
	eventsID     int64
	eventsJSON   bool
)

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().Int64Var(&eventsSince, "since-id", 0, "Only events after this id")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 100, "Maximum number of events to read")
	eventsCmd.Flags().StringVar(&eventsKind, "kind", "", "Only this kind (bot_move, status_update, bin_pickup, ...)")
	eventsCmd.Flags().StringVar(&eventsEntity, "entity", "", "Only this entity (bot, bin, order, bin_lock)")
	eventsCmd.Flags().Int64Var(&eventsID, "id", 0, "Only events about this entity id")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "Output as JSON")
}

// eventFilter selects event records. Zero fields match everything.
type eventFilter struct {
	kind     string
	entity   string
	entityID int64
}

func (f eventFilter) apply(recs []model.EventRecord) []model.EventRecord {
	out := recs[:0:0]
	for _, r := range recs {
		if f.kind != "" && r.Kind != f.kind {
			continue
		}
		if f.entity != "" && r.Entity != f.entity {
			continue
		}
		if f.entityID != 0 && r.EntityID != f.entityID {
			continue
		}
		out = append(out, r)
	}
	return out
}

func readEvents(st store.StoreInterface, since int64, limit int, f eventFilter) ([]model.EventRecord, error) {
	recs, err := st.ListEvents(since, limit)
	if err != nil {
		return nil, err
	}
	return f.apply(recs), nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	recs, err := readEvents(st, eventsSince, eventsLimit, eventFilter{
		kind:     eventsKind,
		entity:   eventsEntity,
		entityID: eventsID,
	})
	if err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}

	out := cmd.OutOrStdout()
	if eventsJSON {
		return writeJSON(out, recs)
	}
	printEvents(out, recs)
	return nil
}

func printEvents(w io.Writer, recs []model.EventRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No events")
		return
	}
	for _, r := range recs {
		subject := r.Entity
		if r.EntityID != 0 {
			subject = fmt.Sprintf("%s:%d", r.Entity, r.EntityID)
		}
		fmt.Fprintf(w, "%-6d %s %-14s %-10s %s\n",
			r.ID, r.CreatedAt.Format("15:04:05.000"), r.Kind, subject, r.Payload)
	}
}
