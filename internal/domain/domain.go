package domain

import "time"

// TimeFormat is the fixed-width UTC layout used for every stored timestamp so
// that lexical order matches chronological order.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

const (
	LoopStatusOpen   = "open"
	LoopStatusClosed = "closed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleHeadCoach = "head_coach"
)

// DefaultTaskTitles replace an empty generation result.
var DefaultTaskTitles = []string{
	"Review requirements",
	"Create initial draft",
	"Finalize implementation",
}

// ValidRole reports whether role is an accepted chat message role.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleHeadCoach:
		return true
	}
	return false
}

// ValidLoopStatus reports whether status is a known loop lifecycle value.
func ValidLoopStatus(status string) bool {
	return status == LoopStatusOpen || status == LoopStatusClosed
}

type Loop struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Summary        *string  `json:"summary,omitempty"`
	SentimentScore *float64 `json:"sentiment_score,omitempty"`
	Status         string   `json:"status" enum:"open,closed"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// LoopPatch lists the mutable loop fields; nil means unchanged.
type LoopPatch struct {
	Title          *string
	Summary        *string
	SentimentScore *float64
	Status         *string
}

type Task struct {
	ID          string  `json:"id"`
	LoopID      string  `json:"loop_id"`
	ParentID    *string `json:"parent_id,omitempty"`
	Title       string  `json:"title"`
	IsCompleted bool    `json:"is_completed"`
	IsExpanded  bool    `json:"is_expanded"`
	Position    int     `json:"position"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	Microsteps  []Task  `json:"microsteps,omitempty"`
}

// TaskPatch lists the mutable task fields; nil means unchanged.
type TaskPatch struct {
	Title      *string
	IsExpanded *bool
}

// LoopWithTasks is a loop joined with its task tree. Tasks holds the
// top-level tasks; nested tasks hang off Microsteps.
type LoopWithTasks struct {
	Loop
	Tasks []Task `json:"tasks"`
}

type ChatMessage struct {
	ID        string  `json:"id"`
	LoopID    string  `json:"loop_id"`
	TaskID    *string `json:"task_id,omitempty"`
	Role      string  `json:"role" enum:"user,assistant,system,head_coach"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Session struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	ExpiresAt string  `json:"expires_at" format:"date-time"`
	RevokedAt *string `json:"revoked_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	LoopID     string `json:"loop_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
