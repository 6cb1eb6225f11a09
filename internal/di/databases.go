package di

import (
	"fmt"

	"github.com/aristath/quantcore/internal/config"
	"github.com/aristath/quantcore/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the market and ledger databases and applies
// their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. market.db - Universes and daily bars
	marketDB, err := database.New(database.Config{
		Path:    cfg.MarketDBPath(),
		Profile: database.ProfileStandard,
		Name:    database.NameMarket,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize market database: %w", err)
	}
	container.MarketDB = marketDB

	// 2. ledger.db - Compliance exception ledger
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.LedgerDBPath(),
		Profile: database.ProfileLedger, // Maximum safety for the audit trail
		Name:    database.NameLedger,
	})
	if err != nil {
		marketDB.Close()
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	for _, db := range []*database.DB{marketDB, ledgerDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().
		Str("market", marketDB.Path()).
		Str("ledger", ledgerDB.Path()).
		Msg("Databases initialized and schemas applied")

	return container, nil
}
