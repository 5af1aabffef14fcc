package debate

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task is the problem under debate.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTask creates a task with an ID of the form
// debate_YYYYMMDD_HHMMSS_<8 hex>.
func NewTask(description string, now time.Time) Task {
	return Task{
		ID:          generateTaskID(now),
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
	}
}

func generateTaskID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("debate_%s_%s", now.UTC().Format("20060102_150405"), suffix)
}
