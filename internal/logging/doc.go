// Package logging provides structured JSON logging for autostore.
//
// It wraps log/slog with persistent attributes so that every entry written
// on behalf of a bot or order carries bot_id / order_id, and a component tag
// names the subsystem (fleet, orders, watchdog, store, binlock).
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(dataDir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithComponent("fleet").WithBot(2)
//	log.Info("bot assigned", "order_id", 7)
//
// # Reading Logs
//
// [ReadEntries] parses the log file back and [Filter] narrows it by level,
// bot, order or component; the "autostore logs" command is built on these.
package logging
