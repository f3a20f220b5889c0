package cmd

import (
	"fmt"
	"os"
	"strings"

	"db-clone/internal/config"
	"db-clone/internal/dialect"
	"db-clone/internal/engine"
	"db-clone/internal/reference"
	"db-clone/internal/schema"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var asYAML bool

type tableInfo struct {
	Name         string          `yaml:"name"`
	Cross        bool            `yaml:"cross,omitempty"`
	Key          []string        `yaml:"key"`
	Columns      int             `yaml:"columns"`
	Dependencies []string        `yaml:"dependencies,omitempty"`
	References   []referenceInfo `yaml:"references,omitempty"`
}

type referenceInfo struct {
	Name     string   `yaml:"name"`
	Columns  []string `yaml:"columns"`
	Targets  []string `yaml:"targets"`
	Linked   bool     `yaml:"linked,omitempty"`
	External bool     `yaml:"external,omitempty"`
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Show the configured tables in write order",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(viper.GetViper(), "copy")
		if err != nil {
			return err
		}
		d := dialect.GetDialect(DriverName)
		run, err := c.Build(cmd.Context(), DB, d, Log)
		if err != nil {
			return err
		}

		engine.AddDependencies(run.Descriptors)
		byTable := make(map[string][]reference.Descriptor)
		for _, desc := range run.Descriptors {
			key := strings.ToLower(desc.Table().Name)
			byTable[key] = append(byTable[key], desc)
		}

		var regular, cross []*schema.Table
		for _, t := range run.Tables.Tables() {
			if t.CrossTable {
				cross = append(cross, t)
			} else {
				regular = append(regular, t)
			}
		}
		ordered := append(schema.SortTables(regular, Log), cross...)

		infos := make([]tableInfo, 0, len(ordered))
		for _, t := range ordered {
			info := tableInfo{
				Name:         t.Name,
				Cross:        t.CrossTable,
				Key:          []string{t.IDColumn},
				Columns:      len(t.Columns),
				Dependencies: t.Dependencies,
			}
			if t.CrossTable {
				info.Key = t.KeyColumns
			}
			for _, desc := range byTable[strings.ToLower(t.Name)] {
				ri := referenceInfo{
					Name:     desc.Name(),
					Columns:  desc.ReferenceColumns(),
					Linked:   desc.Linked(),
					External: !desc.Traverse(),
				}
				for _, target := range desc.PossibleTargets() {
					ri.Targets = append(ri.Targets, target.Name)
				}
				info.References = append(info.References, ri)
			}
			infos = append(infos, info)
		}

		if asYAML {
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(infos)
		}

		fmt.Printf("🔍 Tables (write order, root %s):\n", run.Root.Table)
		for i, info := range infos {
			kind := ""
			if info.Cross {
				kind = " [cross]"
			}
			fmt.Printf("[%02d] %s%s key=%v (Dependencies: %v)\n", i+1, info.Name, kind, info.Key, info.Dependencies)
			for _, ri := range info.References {
				flags := ""
				if ri.Linked {
					flags += " linked"
				}
				if ri.External {
					flags += " external"
				}
				fmt.Printf("    └ %s %v -> %v%s\n", ri.Name, ri.Columns, ri.Targets, flags)
			}
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(tablesCmd)

	tablesCmd.Flags().BoolVar(&asYAML, "yaml", false, "Print as YAML")
}
