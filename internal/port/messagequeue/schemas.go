package messagequeue

// ControlPayload is the schema for plans.control.* messages.
type ControlPayload struct {
	PlanID string `json:"plan_id"`
}
