package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/labdesk/taskplanner/internal/domain/event"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case subject == SubjectPlanPause, subject == SubjectPlanResume, subject == SubjectPlanCancel:
		var p ControlPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.PlanID == "" {
			return fmt.Errorf("schema validation failed for %s: plan_id is required", subject)
		}
	case strings.HasPrefix(subject, SubjectPlanEvents+"."):
		var ev event.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	}
	return nil
}
