package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"timetree/pkg/graph"
	"timetree/pkg/timetree"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "instant <millis>",
		Short: "Get or create the tree node for a timestamp",
		Args:  cobra.ExactArgs(1),
		RunE:  runInstant,
	})

	rangeCmd := &cobra.Command{
		Use:   "range <start> <end>",
		Short: "List the tree nodes between two timestamps",
		Long: `Creates the nodes for start and end and lists every existing node between
them. With --read-only nothing is created.`,
		Args: cobra.ExactArgs(2),
		RunE: runRange,
	}
	rangeCmd.Flags().Bool("read-only", false, "do not create missing endpoints")
	rootCmd.AddCommand(rangeCmd)

	eventsCmd := &cobra.Command{
		Use:   "events <start> <end>",
		Short: "List events attached between two timestamps",
		Args:  cobra.ExactArgs(2),
		RunE:  runEvents,
	}
	eventsCmd.Flags().String("type", "", "relationship type (default: any)")
	eventsCmd.Flags().String("direction", "", "INCOMING, OUTGOING or BOTH (default BOTH)")
	rootCmd.AddCommand(eventsCmd)

	attachCmd := &cobra.Command{
		Use:   "attach <node> <millis>",
		Short: "Attach a node to the tree at a timestamp",
		Args:  cobra.ExactArgs(2),
		RunE:  runAttach,
	}
	attachCmd.Flags().String("type", "", "relationship type (default from config)")
	attachCmd.Flags().String("direction", "", "INCOMING or OUTGOING (default from config)")
	rootCmd.AddCommand(attachCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "index <node>",
		Short: "Attach a node by its configured timestamp properties",
		Args:  cobra.ExactArgs(1),
		RunE:  runIndex,
	})
}

func nodeArg(arg string) (graph.NodeID, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q is not a node id", timetree.ErrValidation, arg)
	}
	return graph.NodeID(id), nil
}

func runInstant(cmd *cobra.Command, args []string) error {
	inst, err := instantArg(cmd, args[0])
	if err != nil {
		return err
	}
	tree, store, err := openTree(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := tree.GetOrCreateInstant(cmd.Context(), rootFlag(cmd), inst)
	if err != nil {
		return fmt.Errorf("instant: %w", err)
	}
	return render(cmd, toNodeOut(n))
}

func runRange(cmd *cobra.Command, args []string) error {
	start, err := instantArg(cmd, args[0])
	if err != nil {
		return err
	}
	end, err := instantArg(cmd, args[1])
	if err != nil {
		return err
	}
	tree, store, err := openTree(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	var nodes []graph.Node
	if readOnly, _ := cmd.Flags().GetBool("read-only"); readOnly {
		nodes, err = tree.GetRange(cmd.Context(), rootFlag(cmd), start, end)
	} else {
		nodes, err = tree.GetOrCreateRange(cmd.Context(), rootFlag(cmd), start, end)
	}
	if err != nil {
		return fmt.Errorf("range: %w", err)
	}
	return render(cmd, toNodesOut(nodes))
}

func runEvents(cmd *cobra.Command, args []string) error {
	start, err := instantArg(cmd, args[0])
	if err != nil {
		return err
	}
	end, err := instantArg(cmd, args[1])
	if err != nil {
		return err
	}
	relType, _ := cmd.Flags().GetString("type")
	rawDir, _ := cmd.Flags().GetString("direction")
	dir, err := timetree.ParseQueryDirection(rawDir)
	if err != nil {
		return err
	}
	tree, store, err := openTree(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := tree.QueryEvents(cmd.Context(), rootFlag(cmd), start, end, timetree.EventFilter{RelationshipType: relType, Direction: dir})
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	return render(cmd, toEventsOut(events))
}

func runAttach(cmd *cobra.Command, args []string) error {
	entity, err := nodeArg(args[0])
	if err != nil {
		return err
	}
	inst, err := instantArg(cmd, args[1])
	if err != nil {
		return err
	}
	tree, store, err := openTree(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg := tree.Config()
	relType, _ := cmd.Flags().GetString("type")
	if relType == "" {
		relType = cfg.RelationshipType()
	}
	dir := cfg.Direction()
	if raw, _ := cmd.Flags().GetString("direction"); raw != "" {
		if dir, err = timetree.ParseAttachDirection(raw); err != nil {
			return err
		}
	}

	leaf, err := tree.AttachAt(cmd.Context(), rootFlag(cmd), entity, inst, relType, dir)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	return render(cmd, toNodeOut(leaf))
}

func runIndex(cmd *cobra.Command, args []string) error {
	entity, err := nodeArg(args[0])
	if err != nil {
		return err
	}
	tree, store, err := openTree(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	attached, err := tree.Index(cmd.Context(), entity)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	return render(cmd, attached)
}
