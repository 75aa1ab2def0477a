package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/service"
)

const (
	defaultMeshLogLimit = 100
	maxProfileBytes     = 64 << 10
)

type statusView struct {
	Connection string `json:"connection"`
	SyncPhase  string `json:"sync_phase"`
	MyNodeNum  uint32 `json:"my_node_num,omitempty"`
	MyNodeID   string `json:"my_node_id,omitempty"`
	Firmware   string `json:"firmware_version,omitempty"`
	Model      string `json:"model,omitempty"`
	Nodes      int    `json:"nodes"`
}

type nodeView struct {
	Num        uint32   `json:"num"`
	ID         string   `json:"id"`
	LongName   string   `json:"long_name"`
	ShortName  string   `json:"short_name"`
	HWModel    string   `json:"hw_model,omitempty"`
	Role       string   `json:"role,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	LastHeard  uint32   `json:"last_heard"`
	SNR        *float32 `json:"snr,omitempty"`
	RSSI       *int32   `json:"rssi,omitempty"`
	HopsAway   int32    `json:"hops_away"`
	Channel    uint32   `json:"channel"`
	ViaMQTT    bool     `json:"via_mqtt"`
	IsFavorite bool     `json:"is_favorite"`
	IsIgnored  bool     `json:"is_ignored"`
	Battery    *uint32  `json:"battery_level,omitempty"`
}

func toNodeView(n *model.Node) nodeView {
	v := nodeView{
		Num:        n.Num,
		ID:         model.DefaultNodeID(n.Num),
		LongName:   n.LongName,
		ShortName:  n.ShortName,
		LastHeard:  n.LastHeard,
		HopsAway:   n.HopsAway,
		Channel:    n.Channel,
		ViaMQTT:    n.ViaMQTT,
		IsFavorite: n.IsFavorite,
		IsIgnored:  n.IsIgnored,
	}
	if u := n.User; u != nil {
		if u.ID != "" {
			v.ID = u.ID
		}
		v.HWModel = u.HWModel.String()
		v.Role = u.Role.String()
	}
	if n.Position != nil {
		lat, lon := n.Latitude, n.Longitude
		v.Latitude, v.Longitude = &lat, &lon
	}
	if n.SNR != math.MaxFloat32 {
		snr, rssi := n.SNR, n.RSSI
		v.SNR, v.RSSI = &snr, &rssi
	}
	if m := n.DeviceMetrics(); m != nil {
		level := m.BatteryLevel
		v.Battery = &level
	}
	return v
}

type messageView struct {
	ID        uint32 `json:"id"`
	Contact   string `json:"contact"`
	From      string `json:"from"`
	To        string `json:"to"`
	Channel   uint32 `json:"channel"`
	Port      string `json:"port"`
	Text      string `json:"text,omitempty"`
	Time      int64  `json:"time"`
	Status    string `json:"status"`
	ReplyID   uint32 `json:"reply_id,omitempty"`
	Read      bool   `json:"read"`
	HopsAway  int32  `json:"hops_away"`
	ViaMQTT   bool   `json:"via_mqtt"`
	RelayNode uint32 `json:"relay_node,omitempty"`
}

type sendRequest struct {
	To      string `json:"to"`
	Channel uint32 `json:"channel"`
	Text    string `json:"text"`
	ReplyID uint32 `json:"reply_id"`
}

type requestIDView struct {
	RequestID uint32 `json:"request_id"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{"status": "ok", "service": "meshlink"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	v := statusView{
		Connection: s.ctrl.ConnectionState().String(),
		SyncPhase:  s.ctrl.SyncPhase().Get().String(),
		Nodes:      len(s.ctrl.Nodes()),
	}
	if mi := s.ctrl.MyNodeInfo(); mi != nil {
		v.MyNodeNum = mi.MyNodeNum
		v.MyNodeID = model.DefaultNodeID(mi.MyNodeNum)
		v.Firmware = mi.FirmwareVersion
		v.Model = mi.Model
	}
	jsonResponse(w, http.StatusOK, v)
}

func (s *Server) refreshConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.RequestConfig(r.Context()); err != nil {
		failure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) configSyncState(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.ConfigSync().Get()
	body := map[string]any{
		"status":    st.Status.String(),
		"dest":      st.Dest,
		"total":     st.Total,
		"completed": st.Completed,
	}
	if st.Err != nil {
		body["error"] = st.Err.Error()
	}
	jsonResponse(w, http.StatusOK, body)
}

func (s *Server) exportProfile(w http.ResponseWriter, r *http.Request) {
	b, err := s.ctrl.ExportProfile(r.Context())
	if err != nil {
		failure(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(b)
}

func (s *Server) importProfile(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxProfileBytes))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "failed to read profile: "+err.Error())
		return
	}
	if _, err := service.UnmarshalProfile(b); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ctrl.ImportProfile(r.Context(), b); err != nil {
		failure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	contact := r.URL.Query().Get("contact")
	packets, err := s.ctrl.Messages(r.Context(), contact)
	if err != nil {
		failure(w, err)
		return
	}
	out := make([]messageView, 0, len(packets))
	for _, p := range packets {
		v := messageView{ID: p.PacketID, Contact: p.ContactKey, Port: p.PortNum.String(), Read: p.Read}
		if d := p.Data; d != nil {
			v.From = d.From
			v.To = d.To
			v.Channel = d.Channel
			v.Time = d.Time
			v.Status = d.Status.String()
			v.ReplyID = d.ReplyID
			v.HopsAway = d.HopsAway()
			v.ViaMQTT = d.ViaMQTT
			v.RelayNode = d.RelayNode
			if text, ok := d.Text(); ok {
				v.Text = text
			}
		}
		out = append(out, v)
	}
	jsonResponse(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxProfileBytes)).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		errorResponse(w, http.StatusBadRequest, "text required")
		return
	}
	if req.To == "" {
		req.To = model.IDBroadcast
	}
	id, err := s.ctrl.SendText(r.Context(), req.To, req.Channel, req.Text, req.ReplyID)
	if err != nil {
		failure(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, map[string]any{"id": id})
}

func (s *Server) meshLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultMeshLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.ctrl.MeshLog(r.Context(), limit)
	if err != nil {
		failure(w, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"uuid":          e.UUID,
			"type":          e.MessageType,
			"received_date": e.ReceivedDate,
			"from":          e.FromNum,
			"port":          e.PortNum.String(),
		})
	}
	jsonResponse(w, http.StatusOK, map[string]any{"entries": out})
}

func (s *Server) lastResponses(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.State()
	jsonResponse(w, http.StatusOK, map[string]any{
		"traceroute": st.TracerouteResponse().Get(),
		"neighbors":  st.NeighborInfoResponse().Get(),
	})
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.ctrl.Nodes()
	out := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toNodeView(n))
	}
	jsonResponse(w, http.StatusOK, map[string]any{"nodes": out})
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "node")
	n, ok := s.ctrl.Node(id)
	if !ok {
		if num, err := parseNodeNum(id); err == nil {
			n, ok = s.ctrl.Node(model.DefaultNodeID(num))
		}
	}
	if !ok {
		errorResponse(w, http.StatusNotFound, "node not found: "+id)
		return
	}
	jsonResponse(w, http.StatusOK, toNodeView(n))
}

func (s *Server) removeNode(w http.ResponseWriter, r *http.Request) {
	num, ok := nodeParam(w, r)
	if !ok {
		return
	}
	if err := s.ctrl.RemoveNode(r.Context(), num); err != nil {
		failure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) neighbors(w http.ResponseWriter, r *http.Request) {
	num, ok := nodeParam(w, r)
	if !ok {
		return
	}
	type neighborView struct {
		Num uint32  `json:"num"`
		ID  string  `json:"id"`
		SNR float32 `json:"snr"`
	}
	list := s.ctrl.Neighbors(num)
	out := make([]neighborView, 0, len(list))
	for _, n := range list {
		out = append(out, neighborView{Num: n.NodeID, ID: model.DefaultNodeID(n.NodeID), SNR: n.SNR})
	}
	jsonResponse(w, http.StatusOK, map[string]any{"neighbors": out})
}

func (s *Server) traceroute(w http.ResponseWriter, r *http.Request) {
	num, ok := nodeParam(w, r)
	if !ok {
		return
	}
	id, err := s.ctrl.RequestTraceroute(r.Context(), num)
	if err != nil {
		failure(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, requestIDView{RequestID: id})
}

func (s *Server) requestNeighbors(w http.ResponseWriter, r *http.Request) {
	num, ok := nodeParam(w, r)
	if !ok {
		return
	}
	id, err := s.ctrl.RequestNeighborInfo(r.Context(), num)
	if err != nil {
		failure(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, requestIDView{RequestID: id})
}

func (s *Server) startConfigSync(w http.ResponseWriter, r *http.Request) {
	num, ok := nodeParam(w, r)
	if !ok {
		return
	}
	if err := s.ctrl.StartRemoteConfigSync(r.Context(), num); err != nil {
		failure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) reboot(w http.ResponseWriter, r *http.Request) {
	s.timedAdmin(w, r, s.ctrl.RequestReboot)
}

func (s *Server) shutdown(w http.ResponseWriter, r *http.Request) {
	s.timedAdmin(w, r, s.ctrl.RequestShutdown)
}

func (s *Server) timedAdmin(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, dest, secs uint32) error) {
	num, ok := nodeParam(w, r)
	if !ok {
		return
	}
	secs := uint32(5)
	if raw := r.URL.Query().Get("seconds"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, "seconds must be a non-negative integer")
			return
		}
		secs = uint32(n)
	}
	if err := fn(r.Context(), num, secs); err != nil {
		failure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) factoryReset(w http.ResponseWriter, r *http.Request) {
	num, ok := nodeParam(w, r)
	if !ok {
		return
	}
	full := r.URL.Query().Get("full") == "true"
	if err := s.ctrl.RequestFactoryReset(r.Context(), num, full); err != nil {
		failure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) nodeDBReset(w http.ResponseWriter, r *http.Request) {
	num, ok := nodeParam(w, r)
	if !ok {
		return
	}
	if err := s.ctrl.RequestNodeDBReset(r.Context(), num); err != nil {
		failure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// nodeParam parses the {node} URL parameter, writing a 400 on failure.
func nodeParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "node")
	num, err := parseNodeNum(raw)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return num, true
}

// parseNodeNum accepts a node number in decimal or a "!hex" node ID.
func parseNodeNum(s string) (uint32, error) {
	base := 10
	if strings.HasPrefix(s, "!") {
		s, base = s[1:], 16
	}
	n, err := strconv.ParseUint(s, base, 32)
	if err != nil || s == "" {
		return 0, fmt.Errorf("invalid node %q", s)
	}
	return uint32(n), nil
}
