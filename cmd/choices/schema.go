package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/artpar/choices"
	"github.com/artpar/choices/core/schema"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var schemaShowIndex bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the routes of the demo configuration",
	Long: `Print every field of the demo configuration with its route, rendered
type, the verbs it answers and its declared constraints.

Pass --index to print the body served at the listing path instead.`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaShowIndex, "index", false, "print the listing body")
	schemaCmd.Flags().StringVar(&serveSerialization, "serialization", "text", "value format: text, json or yaml")
	schemaCmd.Flags().StringVar(&serveLock, "lock", "rw", "lock kind: none, exclusive or rw")
	schemaCmd.Flags().StringVar(&serveRootPath, "root-path", "", "listing path (default /config)")
	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	opts, err := demoOptions(serveSerialization, serveLock, serveRootPath)
	if err != nil {
		return err
	}
	c, err := choices.New(newServiceConfig(zerolog.Nop()), opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if schemaShowIndex {
		_, err := out.Write(c.Index().Body)
		return err
	}

	s := c.Schema()
	fmt.Fprintf(out, "Listing: GET %s (%s, lock %s)\n\n", s.RootPath(), s.Attrs.Serialization, s.Attrs.Lock)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tTYPE\tGET\tPUT\tCONSTRAINTS")
	for _, f := range s.Visible() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.FieldPath(f.Name), f.TypeName, yesNo(f.Readable()), yesNo(f.Writable() && s.Attrs.Lock != schema.LockNone), constraints(f))
	}
	return w.Flush()
}

func constraints(f schema.FieldSpec) string {
	var parts []string
	for _, c := range f.Attributes.Constraints {
		if c.Arg == "" {
			parts = append(parts, string(c.Type))
			continue
		}
		parts = append(parts, string(c.Type)+"="+c.Arg)
	}
	if f.Attributes.Validator != "" {
		parts = append(parts, "validator="+f.Attributes.Validator)
	}
	if f.Attributes.OnSet != "" {
		parts = append(parts, "on_set="+f.Attributes.OnSet)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// configPath returns the --config path, or "" to configure from the
// environment when the default file does not exist.
func configPath() string {
	if _, err := os.Stat(cfgFile); err != nil && !rootCmd.PersistentFlags().Changed("config") {
		return ""
	}
	return cfgFile
}
