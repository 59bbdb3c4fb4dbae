package metrics

import (
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/collectors"
)

// RegisterRuntimeCollectors adds the Go runtime and process collectors
func (r *Registry) RegisterRuntimeCollectors() error {
	if err := r.RegisterCollector(collectors.NewGoCollector()); err != nil {
		return fmt.Errorf("register go collector: %w", err)
	}
	if err := r.RegisterCollector(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return fmt.Errorf("register process collector: %w", err)
	}
	return nil
}

// RegisterDBStats exposes the sql.DB pool statistics under go_sql_*{db_name=name}
func (r *Registry) RegisterDBStats(db *sql.DB, name string) error {
	if err := r.RegisterCollector(collectors.NewDBStatsCollector(db, name)); err != nil {
		return fmt.Errorf("register db stats collector: %w", err)
	}
	return nil
}
