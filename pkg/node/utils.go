package node

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/pkg/group"
)

// NormalizeHostPort cuts the http:// https:// prefixes from the input address
// adds a default port
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return addr + ":" + defPort
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps validation failures to 400 and everything else to 500.
func (n *Node) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	if group.IsValidation(err) {
		status = http.StatusBadRequest
	} else {
		n.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20))
	dec.UseNumber()
	return dec.Decode(v)
}

func tableJSON(t map[group.Address]group.GroupID) map[string]int {
	out := make(map[string]int, len(t))
	for a, id := range t {
		out[string(a)] = int(id)
	}
	return out
}
