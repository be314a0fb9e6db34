package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kobaltstream/dubrelay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing dubrelay configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  dubrelay config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, .dubrelay.yaml, /etc/dubrelay/config.yaml)
  - Environment variables (DUBRELAY_SERVER_PORT, DUBRELAY_WORKER_STS_URL, etc.)
  - Command-line flags (for some options)

Environment variables use the DUBRELAY_ prefix and underscores for nesting.
Example: worker.max_inflight -> DUBRELAY_WORKER_MAX_INFLIGHT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		case config.ByteSize:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	var b strings.Builder
	b.WriteString("# dubrelay Configuration File\n")
	b.WriteString("# ===========================\n")
	b.WriteString("#\n")
	b.WriteString("# All values shown below are defaults.\n")
	b.WriteString("# Duration format: 30s, 5m, 1h\n")
	b.WriteString("# Size format: 5MB, 1GB\n")
	b.WriteString("#\n")
	b.WriteString("# Environment variable overrides:\n")
	b.WriteString("#   DUBRELAY_SERVER_HOST, DUBRELAY_SERVER_PORT\n")
	b.WriteString("#   DUBRELAY_WORKER_STS_URL, DUBRELAY_WORKER_MAX_INFLIGHT\n")
	b.WriteString("#   DUBRELAY_LOGGING_LEVEL, DUBRELAY_LOGGING_FORMAT\n")
	b.WriteString("#   etc.\n")
	b.WriteString("#\n\n")

	fmt.Print(b.String())
	fmt.Print(string(yamlData))

	return nil
}
