package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var encodersCmd = &cobra.Command{
	Use:   "encoders",
	Short: "List configured encoder models",
	Args:  cobra.NoArgs,
	RunE:  runEncoders,
}

func init() {
	rootCmd.AddCommand(encodersCmd)
	encodersCmd.Flags().Bool("json", false, "Output as JSON")
}

func runEncoders(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		names := make([]string, 0, len(cfg.Encoder.Models))
		for _, m := range cfg.Encoder.Models {
			names = append(names, m.Name)
		}
		return printJSON(map[string]any{"models": names, "backend": cfg.Encoder.Backend})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "MODEL\tBACKEND\tPREFIX\tDEFAULT")
	for i, m := range cfg.Encoder.Models {
		def := ""
		if i == 0 {
			def = "yes"
		}
		prefix := m.Prefix
		if prefix == "" {
			prefix = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%q\t%s\n", m.Name, cfg.Encoder.Backend, prefix, def)
	}
	return nil
}
