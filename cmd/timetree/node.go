package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"timetree/pkg/graph"
	"timetree/pkg/timetree"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Create and inspect entity nodes",
}

func init() {
	nodeCmd.AddCommand(&cobra.Command{
		Use:   "create <label> [key=value...]",
		Short: "Create an entity node",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runNodeCreate,
	})
	nodeCmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show a node",
		Args:  cobra.ExactArgs(1),
		RunE:  runNodeGet,
	})
	nodeCmd.AddCommand(&cobra.Command{
		Use:   "set <id> key=value...",
		Short: "Set node properties; an empty value removes the property",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runNodeSet,
	})
	rootCmd.AddCommand(nodeCmd)
}

// parseProps reads key=value pairs. Values that parse as JSON (numbers,
// booleans, quoted strings) keep their type; anything else is a string.
// An empty value maps to nil.
func parseProps(pairs []string) (map[string]any, error) {
	props := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: %q is not key=value", timetree.ErrValidation, p)
		}
		if v == "" {
			props[k] = nil
			continue
		}
		dec := json.NewDecoder(strings.NewReader(v))
		dec.UseNumber()
		var parsed any
		if err := dec.Decode(&parsed); err == nil && !dec.More() {
			props[k] = parsed
		} else {
			props[k] = v
		}
	}
	return props, nil
}

func runNodeCreate(cmd *cobra.Command, args []string) error {
	label := args[0]
	if err := timetree.ValidateEntityLabel(label); err != nil {
		return err
	}
	props, err := parseProps(args[1:])
	if err != nil {
		return err
	}
	if _, ok := props["uid"]; !ok {
		props["uid"] = uuid.Must(uuid.NewV7()).String()
	}
	tree, store, err := openTree(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	n, _, err := tree.CreateEntity(cmd.Context(), label, props, tree.Config().AutoAttach())
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	return render(cmd, toNodeOut(n))
}

func runNodeGet(cmd *cobra.Command, args []string) error {
	id, err := nodeArg(args[0])
	if err != nil {
		return err
	}
	_, store, err := openTree(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	var n *graph.Node
	err = store.View(cmd.Context(), func(tx graph.Tx) error {
		var err error
		n, err = tx.Node(cmd.Context(), id)
		return err
	})
	if err != nil {
		return err
	}
	return render(cmd, toNodeOut(n))
}

func runNodeSet(cmd *cobra.Command, args []string) error {
	id, err := nodeArg(args[0])
	if err != nil {
		return err
	}
	props, err := parseProps(args[1:])
	if err != nil {
		return err
	}
	tree, store, err := openTree(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	n, _, err := tree.UpdateEntity(cmd.Context(), id, props, tree.Config().AutoAttach())
	if err != nil {
		return fmt.Errorf("set properties: %w", err)
	}
	return render(cmd, toNodeOut(n))
}
