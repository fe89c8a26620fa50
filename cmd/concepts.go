package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/form-filler/internal/filling"
)

const missingAnswer = "<missing>"

var conceptsCmd = &cobra.Command{
	Use:   "concepts",
	Short: "Print the concepts that will be matched and the answers they use",
	RunE: func(cmd *cobra.Command, _ []string) error {
		config, err := getConfig()
		if err != nil {
			return fmt.Errorf("getting a config: %w", err)
		}

		answers, err := resolveAnswers(viper.AllSettings(), config.Answers)
		if err != nil {
			return err
		}

		return printConcepts(cmd.OutOrStdout(), config, answers)
	},
}

func init() {
	rootCmd.AddCommand(conceptsCmd)
}

func printConcepts(out io.Writer, config *Config, answers map[string]string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tCONCEPT\tKEY\tANSWER")

	stages := []struct {
		name  string
		table []ConceptConfig
	}{
		{name: filling.StageFields, table: config.fieldTable()},
		{name: filling.StageDropdowns, table: config.dropdownTable()},
	}

	for _, stage := range stages {
		for _, row := range stage.table {
			key := answerKey(row)
			value, ok := answers[key]
			if !ok {
				value = missingAnswer
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", stage.name, row.Concept, key, value)
		}
	}

	return w.Flush()
}
