package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"timetree/pkg/graph"
	"timetree/pkg/timetree"
)

type nodeRequest struct {
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

func (s *Server) handleNodeCreate(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	label, props, err := entityOf(req.Labels, req.Properties)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, attached, err := s.tree.CreateEntity(r.Context(), label, props, s.tree.Config().AutoAttach())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logCreated(n, attached)
	writeJSON(w, 201, toNodeJSON(n))
}

func (s *Server) handleNodeGet(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.node(r, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, 200, toNodeJSON(n))
}

// handleNodeUpdate merges the body into the node's properties. A null value
// removes the property.
func (s *Server) handleNodeUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var updates map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&updates); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	n, attached, err := s.tree.UpdateEntity(r.Context(), id, updates, s.tree.Config().AutoAttach())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(attached) > 0 {
		s.log.Info("auto-attached node", "id", n.ID, "attachments", len(attached))
	}
	writeJSON(w, 200, toNodeJSON(n))
}

func nodeID(r *http.Request) (graph.NodeID, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: node id %q", timetree.ErrValidation, raw)
	}
	return graph.NodeID(id), nil
}

// entityOf checks a requested entity and gives it a time-ordered uid unless
// the client supplied one.
func entityOf(labels []string, props map[string]any) (string, map[string]any, error) {
	if len(labels) != 1 {
		return "", nil, fmt.Errorf("%w: exactly one label is required, got %d", timetree.ErrValidation, len(labels))
	}
	if err := timetree.ValidateEntityLabel(labels[0]); err != nil {
		return "", nil, err
	}
	if props == nil {
		props = map[string]any{}
	}
	if _, ok := props["uid"]; !ok {
		props["uid"] = uuid.Must(uuid.NewV7()).String()
	}
	return labels[0], props, nil
}

func (s *Server) logCreated(n *graph.Node, attached []timetree.Attachment) {
	s.log.Debug("created node", "id", n.ID, "label", n.Label)
	if len(attached) > 0 {
		s.log.Info("auto-attached node", "id", n.ID, "attachments", len(attached))
	}
}

func (s *Server) node(r *http.Request, id graph.NodeID) (*graph.Node, error) {
	var n *graph.Node
	err := s.store.View(r.Context(), func(tx graph.Tx) error {
		var err error
		n, err = tx.Node(r.Context(), id)
		return err
	})
	return n, err
}
