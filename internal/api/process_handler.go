// File path: internal/api/process_handler.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// processRequest is the unified request envelope. Which fields are required
// depends on the action.
type processRequest struct {
	Action          string  `json:"action"`
	SessionID       string  `json:"session_id,omitempty"`
	InvestorType    string  `json:"investor_type,omitempty"`
	UserInput       string  `json:"user_input,omitempty"`
	FieldKey        string  `json:"field_key,omitempty"`
	FieldValue      *string `json:"field_value,omitempty"`
	GroupName       string  `json:"group_name,omitempty"`
	SelectedIndices []int   `json:"selected_indices,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	ctx := r.Context()

	switch req.Action {
	case "init":
		if req.InvestorType == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("investor_type is required for init action"))
			return
		}
		res, err := s.engine.Init(ctx, req.InvestorType)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, wrap("init", res))

	case "chat":
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("session_id is required for chat action"))
			return
		}
		if req.UserInput == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("user_input is required for chat action"))
			return
		}
		res, err := s.engine.Chat(ctx, req.SessionID, req.UserInput)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, wrap("chat", res))

	case "fill_text":
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("session_id is required for fill_text action"))
			return
		}
		if req.FieldKey == "" || req.FieldValue == nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("field_key and field_value are required for fill_text action"))
			return
		}
		res, err := s.engine.FillText(ctx, req.SessionID, req.FieldKey, *req.FieldValue)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, wrap("fill_text", res))

	case "fill_boolean":
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("session_id is required for fill_boolean action"))
			return
		}
		if req.GroupName == "" || req.SelectedIndices == nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("group_name and selected_indices are required for fill_boolean action"))
			return
		}
		res, err := s.engine.FillBoolean(ctx, req.SessionID, req.GroupName, req.SelectedIndices)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, wrap("fill_boolean", res))

	case "get_status":
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("session_id is required for get_status action"))
			return
		}
		res, err := s.engine.Status(ctx, req.SessionID)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, wrap("get_status", res))

	case "get_missing":
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("session_id is required for get_missing action"))
			return
		}
		res, err := s.engine.Missing(ctx, req.SessionID)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, wrap("get_missing", res))

	case "complete":
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("session_id is required for complete action"))
			return
		}
		res, err := s.engine.Complete(ctx, req.SessionID)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, wrap("complete", res))

	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf(
			"invalid action: %q (valid actions: init, chat, fill_text, fill_boolean, get_status, get_missing, complete)", req.Action))
	}
}

// wrap flattens an engine result into the response envelope with the action
// echo and the success flag.
func wrap(action string, result interface{}) map[string]interface{} {
	raw, err := json.Marshal(result)
	if err != nil {
		return map[string]interface{}{"action": action, "success": true}
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"action": action, "success": true}
	}
	out["action"] = action
	out["success"] = true
	return out
}
