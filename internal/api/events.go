package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"timetree/pkg/graph"
	"timetree/pkg/timetree"
)

// NodeJSON is the wire form of a node.
type NodeJSON struct {
	ID         graph.NodeID   `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// EventJSON is the wire form of a query result.
type EventJSON struct {
	Node             NodeJSON `json:"node"`
	RelationshipType string   `json:"relationshipType"`
	Direction        string   `json:"direction"`
}

func toNodeJSON(n *graph.Node) NodeJSON {
	props := make(map[string]any, len(n.Properties)+1)
	for k, v := range n.Properties {
		props[k] = v
	}
	if n.Value != nil {
		props["value"] = *n.Value
	}
	return NodeJSON{ID: n.ID, Labels: []string{n.Label}, Properties: props}
}

func toNodesJSON(nodes []graph.Node) []NodeJSON {
	out := make([]NodeJSON, len(nodes))
	for i := range nodes {
		out[i] = toNodeJSON(&nodes[i])
	}
	return out
}

func toEventsJSON(events []timetree.Event) []EventJSON {
	out := make([]EventJSON, len(events))
	for i := range events {
		out[i] = EventJSON{
			Node:             toNodeJSON(&events[i].Node),
			RelationshipType: events[i].RelationshipType,
			Direction:        events[i].Direction.String(),
		}
	}
	return out
}

// rootOf reads the optional {rootId} path segment.
func rootOf(r *http.Request) (timetree.Root, error) {
	raw := r.PathValue("rootId")
	if raw == "" {
		return timetree.DefaultRoot, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: root id %q", timetree.ErrValidation, raw)
	}
	return timetree.CustomRoot(id), nil
}

// instantOf reads a millisecond path segment with the request's resolution
// and timezone query parameters.
func instantOf(r *http.Request, key string) (timetree.Instant, error) {
	raw := r.PathValue(key)
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return timetree.Instant{}, fmt.Errorf("%w: %s %q is not a millisecond timestamp", timetree.ErrValidation, key, raw)
	}
	return timetree.NewInstant(ms, r.URL.Query().Get("timezone"), r.URL.Query().Get("resolution"))
}

func filterOf(r *http.Request) (timetree.EventFilter, error) {
	q := r.URL.Query()
	dir, err := timetree.ParseQueryDirection(q.Get("direction"))
	if err != nil {
		return timetree.EventFilter{}, err
	}
	return timetree.EventFilter{RelationshipType: q.Get("relationshipType"), Direction: dir}, nil
}

func (s *Server) handleNow(w http.ResponseWriter, r *http.Request) {
	root, err := rootOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	inst, err := timetree.NewInstant(time.Now().UnixMilli(), r.URL.Query().Get("timezone"), r.URL.Query().Get("resolution"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.tree.GetOrCreateInstant(r.Context(), root, inst)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, 200, toNodeJSON(n))
}

func (s *Server) handleInstant(w http.ResponseWriter, r *http.Request) {
	root, err := rootOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	inst, err := instantOf(r, "time")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.tree.GetOrCreateInstant(r.Context(), root, inst)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, 200, toNodeJSON(n))
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	root, err := rootOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	start, err := instantOf(r, "start")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	end, err := instantOf(r, "end")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nodes, err := s.tree.GetOrCreateRange(r.Context(), root, start, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, 200, toNodesJSON(nodes))
}

func (s *Server) handleInstantEvents(w http.ResponseWriter, r *http.Request) {
	inst, err := instantOf(r, "time")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.queryEvents(w, r, inst, inst)
}

func (s *Server) handleRangeEvents(w http.ResponseWriter, r *http.Request) {
	start, err := instantOf(r, "start")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	end, err := instantOf(r, "end")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.queryEvents(w, r, start, end)
}

func (s *Server) queryEvents(w http.ResponseWriter, r *http.Request, start, end timetree.Instant) {
	root, err := rootOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	filter, err := filterOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	events, err := s.tree.QueryEvents(r.Context(), root, start, end, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, 200, toEventsJSON(events))
}

// attachRequest names an existing node by id, or describes a new one by
// labels and properties.
type attachRequest struct {
	Node *struct {
		ID         graph.NodeID   `json:"id"`
		Labels     []string       `json:"labels"`
		Properties map[string]any `json:"properties"`
	} `json:"node"`
	RelationshipType string `json:"relationshipType"`
	Direction        string `json:"direction"`
	Time             *int64 `json:"time"`
	Resolution       string `json:"resolution"`
	Timezone         string `json:"timezone"`
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	root, err := rootOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req attachRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.Node == nil {
		s.fail(w, r, timetree.ErrMissingNode)
		return
	}
	if req.Time == nil {
		writeError(w, 400, "time is required")
		return
	}

	cfg := s.tree.Config()
	relType := req.RelationshipType
	if relType == "" {
		relType = cfg.RelationshipType()
	}
	if err := timetree.ValidateRelationshipType(relType); err != nil {
		s.fail(w, r, err)
		return
	}
	dir := cfg.Direction()
	if req.Direction != "" {
		if dir, err = timetree.ParseAttachDirection(req.Direction); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	inst, err := timetree.NewInstant(*req.Time, req.Timezone, req.Resolution)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var entity, leaf *graph.Node
	status := 200
	if req.Node.ID == 0 {
		label, props, err := entityOf(req.Node.Labels, req.Node.Properties)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if entity, leaf, err = s.tree.AttachNew(r.Context(), root, label, props, inst, relType, dir); err != nil {
			s.fail(w, r, err)
			return
		}
		s.logCreated(entity, nil)
		status = 201
	} else {
		if leaf, err = s.tree.AttachAt(r.Context(), root, req.Node.ID, inst, relType, dir); err != nil {
			s.fail(w, r, err)
			return
		}
		if entity, err = s.node(r, req.Node.ID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, status, map[string]any{
		"node":             toNodeJSON(entity),
		"leaf":             toNodeJSON(leaf),
		"relationshipType": relType,
		"direction":        dir.String(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	bus := s.tree.Bus()
	if bus == nil {
		writeError(w, 503, "attachment stream is disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, 500, "streaming not supported")
		return
	}

	// Subscribe before the headers go out so a client that saw the response
	// misses nothing.
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(map[string]any{
				"entity":           a.Entity,
				"leaf":             a.Leaf,
				"relationshipType": a.RelationshipType,
				"direction":        a.Direction.String(),
				"at":               a.At,
			})
			if err != nil {
				s.log.Error("encode attachment", "err", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
	}
}
