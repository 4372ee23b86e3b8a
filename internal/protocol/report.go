package protocol

// StatusReport is the authoritative station state as broadcast to all
// registered clients. Built fresh for every send; never cached.
type StatusReport struct {
	RobotState       string
	LastCommandBy    string  // "" when no command has been applied yet
	LastCommandAt    float64 // unix seconds; 0 when unset
	ConnectedClients int
	DSState          string // "" unless the detection pipeline is enabled
}

// ToPayload renders the report with explicit nulls for unset optionals,
// matching the wire schema.
func (r StatusReport) ToPayload() map[string]any {
	payload := map[string]any{
		"robot_state":       r.RobotState,
		"last_command_by":   nil,
		"last_command_at":   nil,
		"connected_clients": r.ConnectedClients,
		"ds_state":          nil,
	}
	if r.LastCommandBy != "" {
		payload["last_command_by"] = r.LastCommandBy
	}
	if r.LastCommandAt != 0 {
		payload["last_command_at"] = r.LastCommandAt
	}
	if r.DSState != "" {
		payload["ds_state"] = r.DSState
	}
	return payload
}

// ReportFromPayload parses a STATUS payload defensively: wrong-typed or
// missing fields degrade to zero values rather than failing, so a newer
// server never strands an older client.
func ReportFromPayload(payload map[string]any) StatusReport {
	report := StatusReport{RobotState: "unknown"}
	if v, ok := payload["robot_state"].(string); ok && v != "" {
		report.RobotState = v
	}
	if v, ok := payload["last_command_by"].(string); ok {
		report.LastCommandBy = v
	}
	if v, ok := payload["last_command_at"].(float64); ok {
		report.LastCommandAt = v
	}
	switch v := payload["connected_clients"].(type) {
	case float64: // decoded JSON numbers
		report.ConnectedClients = int(v)
	case int:
		report.ConnectedClients = v
	}
	if v, ok := payload["ds_state"].(string); ok {
		report.DSState = v
	}
	return report
}
