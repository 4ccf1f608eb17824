// Package cli implements the memory-service CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/config"
	"github.com/rcliao/memory-service/internal/embedding"
	"github.com/rcliao/memory-service/internal/logging"
	"github.com/rcliao/memory-service/internal/metrics"
	"github.com/rcliao/memory-service/internal/store"
)

var (
	dbPath     string
	configPath string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memory-service",
	Short: "Semantic memory for AI agents",
	Long: "Store, search and link memories in a single SQLite file with vector, keyword and tag indexes.\n" +
		"Every command prints JSON. Run `serve --mcp` to expose the same operations over MCP stdio.",
	SilenceUsage: true,
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringVarP(&dbPath, "db", "d", "", "Database path (default: $MEMORY_SERVICE_DB, storage.path, or ~/.memory-service/memory.db)")
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default: $MEMORY_SERVICE_CONFIG or ~/.memory-service/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// loadConfig applies flag overrides on top of the file and environment, then
// installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is an open store plus the resources it borrows.
type session struct {
	cfg     *config.Config
	store   store.Store
	cache   *embedding.QueryCache
	metrics *metrics.Metrics
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		logging.Warnf("close store: %v", err)
	}
	s.cache.Close()
}

func openStore(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openSession(ctx, cfg, nil)
}

func openSession(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*session, error) {
	backend, err := store.ParseBackend(cfg.Storage.Backend)
	if err != nil {
		return nil, err
	}
	emb, err := embedding.Load(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}
	cache, err := embedding.NewQueryCache(cfg.Embedding.QueryCacheSize)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, backend, store.OptionsFromConfig(cfg, emb, cache, m))
	if err != nil {
		cache.Close()
		return nil, err
	}
	logging.Debugf("opened %s store at %s with %s", backend, cfg.Storage.Path, emb.Name())
	return &session{cfg: cfg, store: st, cache: cache, metrics: m}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

// printResult prints a mutation outcome and turns a rejected one into an error
// so the exit status reflects it.
func printResult(cmd *cobra.Command, r store.Result) error {
	if err := printJSON(cmd, r); err != nil {
		return err
	}
	if !r.Success {
		return fmt.Errorf("%s", r.Message)
	}
	return nil
}

// readContent takes content from the positional args, or from stdin when it
// is piped.
func readContent(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func parseMeta(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("--meta must be a JSON object: %w", err)
	}
	return m, nil
}

// parseTime accepts RFC 3339, YYYY-MM-DD, or a duration meaning that long ago.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("time %q: want RFC 3339, YYYY-MM-DD or a duration like 48h", s)
}

func timeFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}
