package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sells-group/extract-cli/internal/schema"
)

var schemasFile string

var schemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "Inspect registered schema variants",
}

var schemasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered schema variants",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := initRegistry(schemasFile)
		if err != nil {
			return err
		}
		return formatSchemasList(os.Stdout, reg)
	},
}

var schemasShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print the prompt contract for a schema variant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := initRegistry(schemasFile)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			v, err := reg.VariantFor(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}

		contract, err := reg.PromptContract(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, contract)
		return err
	},
}

func init() {
	schemasCmd.PersistentFlags().StringVar(&schemasFile, "schemas", "", "YAML file with additional schema variants")
	schemasShowCmd.Flags().Bool("json", false, "print the variant descriptor as JSON")

	schemasCmd.AddCommand(schemasListCmd)
	schemasCmd.AddCommand(schemasShowCmd)
	rootCmd.AddCommand(schemasCmd)
}

// formatSchemasList writes one row per registered variant to w.
func formatSchemasList(w io.Writer, reg *schema.Registry) error {
	data := pterm.TableData{{"SCHEMA", "FIELDS", "REQUIRED", "DESCRIPTION"}}
	for _, name := range reg.Names() {
		v, err := reg.VariantFor(name)
		if err != nil {
			return err
		}
		data = append(data, []string{
			v.Name,
			strconv.Itoa(len(v.Fields)),
			strings.Join(v.RequiredFields(), ", "),
			truncate(v.Description, 50),
		})
	}
	renderTable(w, data)
	return nil
}
