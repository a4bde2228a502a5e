package supervisor

import (
	"encoding/json"
	"fmt"
	"io"

	"boxer/internal/options"
	"boxer/internal/userinfo"
)

// workerConfig is everything the re-exec'd worker needs once it's
// running inside the new namespaces; the supervisor resolves it once
// (user lookup, path defaults) and ships it across a pipe, the same way
// minimega's containerShim passes a handful of argv fields across its
// ExtraFiles pipes.
type workerConfig struct {
	RunID   string
	Root    string
	Image   string
	Host    string
	Domain  string
	Home    string
	Work    string
	Console string
	User    userinfo.Spec
	Binds   []options.BindMount
	Cgroups []options.CgroupRule
	Rlimits []options.RlimitRule
	Command []string
}

func writeConfig(w io.Writer, cfg workerConfig) error {
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encode worker config: %w", err)
	}
	return nil
}

func readConfig(r io.Reader) (workerConfig, error) {
	var cfg workerConfig
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode worker config: %w", err)
	}
	return cfg, nil
}
