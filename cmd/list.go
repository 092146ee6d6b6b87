package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/fields"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List available resources",
	Long:    `List available network interfaces and filterable fields.`,
	GroupID: "info",
}

var listInterfacesCmd = &cobra.Command{
	Use:     "interfaces",
	Short:   "List available network interfaces",
	Long:    `Display a list of network interfaces available for packet capture.`,
	Example: `  pktcanalyzer list interfaces`,
	Aliases: []string{"ifaces", "if"},
	RunE:    runListInterfaces,
}

// fields subcommand flags
var listFieldsFilter string

var listFieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List available packet fields",
	Long:  `Display the fields that can be extracted with -e or used in display filters.`,
	Example: `  pktcanalyzer list fields
  pktcanalyzer list fields --filter pktc.snmp`,
	RunE: runListFields,
}

func init() {
	listFieldsCmd.Flags().StringVar(&listFieldsFilter, "filter", "",
		"Filter fields by name pattern")

	listCmd.AddCommand(listInterfacesCmd)
	listCmd.AddCommand(listFieldsCmd)
}

func runListInterfaces(cmd *cobra.Command, args []string) error {
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		return fmt.Errorf("error listing interfaces: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Available network interfaces:")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for i, iface := range ifaces {
		fmt.Fprintf(w, "%d. %s\n", i+1, iface.Name)
		if iface.Description != "" {
			fmt.Fprintf(w, "   Description: %s\n", iface.Description)
		}
		for _, addr := range iface.Addresses {
			fmt.Fprintf(w, "   Address: %s\n", addr.IP)
		}
		fmt.Fprintln(w)
	}

	return nil
}

func runListFields(cmd *cobra.Command, args []string) error {
	registry := fields.NewRegistry()
	fieldList := registry.List()
	sort.Strings(fieldList)

	if listFieldsFilter != "" {
		filtered := make([]string, 0)
		for _, name := range fieldList {
			if strings.Contains(strings.ToLower(name), strings.ToLower(listFieldsFilter)) {
				filtered = append(filtered, name)
			}
		}
		fieldList = filtered
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Available fields:")
	fmt.Fprintln(w, "Name\t\t\tType\tDescription")
	fmt.Fprintln(w, strings.Repeat("-", 70))

	for _, name := range fieldList {
		if info := registry.GetFieldInfo(name); info != "" {
			fmt.Fprintln(w, info)
		}
	}

	if len(fieldList) == 0 && listFieldsFilter != "" {
		fmt.Fprintf(w, "No fields matching '%s' found.\n", listFieldsFilter)
	}
	return nil
}
