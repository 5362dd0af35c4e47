package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"timetree/pkg/graph"
	"timetree/pkg/timetree"
)

type nodeOut struct {
	ID         graph.NodeID   `json:"id" yaml:"id"`
	Label      string         `json:"label" yaml:"label"`
	Value      *int           `json:"value,omitempty" yaml:"value,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

type eventOut struct {
	Node             nodeOut `json:"node" yaml:"node"`
	RelationshipType string  `json:"relationshipType" yaml:"relationshipType"`
	Direction        string  `json:"direction" yaml:"direction"`
}

func toNodeOut(n *graph.Node) nodeOut {
	props := make(map[string]any, len(n.Properties))
	for k, v := range n.Properties {
		// yaml.v3 has no notion of json.Number.
		if num, ok := v.(json.Number); ok {
			if i, err := num.Int64(); err == nil {
				v = i
			} else if f, err := num.Float64(); err == nil {
				v = f
			}
		}
		props[k] = v
	}
	return nodeOut{ID: n.ID, Label: n.Label, Value: n.Value, Properties: props}
}

func toNodesOut(nodes []graph.Node) []nodeOut {
	out := make([]nodeOut, len(nodes))
	for i := range nodes {
		out[i] = toNodeOut(&nodes[i])
	}
	return out
}

func toEventsOut(events []timetree.Event) []eventOut {
	out := make([]eventOut, len(events))
	for i, e := range events {
		out[i] = eventOut{Node: toNodeOut(&e.Node), RelationshipType: e.RelationshipType, Direction: e.Direction.String()}
	}
	return out
}

// render writes v in the format named by --output.
func render(cmd *cobra.Command, v any) error {
	format, _ := cmd.Flags().GetString("output")
	return write(cmd.OutOrStdout(), format, v)
}

func write(w io.Writer, format string, v any) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q (want json or yaml)", format)
}
