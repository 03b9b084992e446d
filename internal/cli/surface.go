package cli

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func init() {
	rootCmd.AddCommand(commandsCmd)
}

// commandsCmd prints the command tree as JSON for shell completion generators and scripts.
var commandsCmd = &cobra.Command{
	Use:    "commands",
	Short:  "Print the command surface as JSON",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := CommandSurfaceJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

// SurfaceCommand is one command in the surface manifest.
type SurfaceCommand struct {
	Name        string           `json:"name"`
	Usage       string           `json:"usage"`
	Aliases     []string         `json:"aliases,omitempty"`
	Short       string           `json:"short"`
	Flags       []SurfaceFlag    `json:"flags,omitempty"`
	Subcommands []SurfaceCommand `json:"subcommands,omitempty"`
}

// SurfaceFlag is one flag in the surface manifest.
type SurfaceFlag struct {
	Long      string `json:"long"`
	Short     string `json:"short,omitempty"`
	Type      string `json:"type"`
	Default   string `json:"default,omitempty"`
	Inherited bool   `json:"inherited,omitempty"`
}

// SurfaceManifest is the top-level command surface.
type SurfaceManifest struct {
	CLI         string           `json:"cli"`
	GlobalFlags []SurfaceFlag    `json:"global_flags"`
	Commands    []SurfaceCommand `json:"commands"`
}

// CommandSurfaceJSON returns the backlot command tree as indented JSON.
func CommandSurfaceJSON() ([]byte, error) {
	return json.MarshalIndent(extractManifest(rootCmd), "", "  ")
}

func extractManifest(root *cobra.Command) SurfaceManifest {
	return SurfaceManifest{
		CLI:         root.Name(),
		GlobalFlags: extractFlags(root.PersistentFlags(), false),
		Commands:    extractSubcommands(root),
	}
}

func extractSubcommands(cmd *cobra.Command) []SurfaceCommand {
	var cmds []SurfaceCommand
	for _, c := range cmd.Commands() {
		if c.Hidden || c.Name() == "help" {
			continue
		}
		cmds = append(cmds, SurfaceCommand{
			Name:        c.Name(),
			Usage:       c.Use,
			Aliases:     c.Aliases,
			Short:       c.Short,
			Flags:       extractFlags(c.LocalFlags(), false),
			Subcommands: extractSubcommands(c),
		})
	}
	slices.SortFunc(cmds, func(a, b SurfaceCommand) int { return strings.Compare(a.Name, b.Name) })
	return cmds
}

func extractFlags(fs *pflag.FlagSet, inherited bool) []SurfaceFlag {
	var flags []SurfaceFlag
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "help" {
			return
		}
		flags = append(flags, SurfaceFlag{
			Long:      f.Name,
			Short:     f.Shorthand,
			Type:      flagTypeName(f.Value.Type()),
			Default:   f.DefValue,
			Inherited: inherited,
		})
	})
	slices.SortFunc(flags, func(a, b SurfaceFlag) int { return strings.Compare(a.Long, b.Long) })
	return flags
}

func flagTypeName(t string) string {
	if strings.EqualFold(t, "stringslice") {
		return "stringSlice"
	}
	return strings.ToLower(t)
}
