package orchestrator

// NotificationKind discriminates the values a NotificationQueue carries,
// grounded in original_source/src/notifications.rs's Notification enum.
type NotificationKind string

const (
	NotifyUserMessage             NotificationKind = "message"
	NotifyCommand                 NotificationKind = "command"
	NotifyBackgroundToolComplete  NotificationKind = "background_tool"
	NotifyBackgroundAgentComplete NotificationKind = "background_agent"
	NotifyCompactionRequest       NotificationKind = "compaction"
)

// Notification is one value queued for delivery to the primary agent, the
// Go shape of notifications.rs's Notification enum variants.
type Notification struct {
	Kind    NotificationKind
	Text    string
	Label   string
	CallID  string
	AgentID int
}

// canInterrupt reports whether this notification may be injected while the
// primary agent is busy (Message, BackgroundTool, BackgroundAgent); Command
// and Compaction must wait for idle (notifications.rs: can_interrupt).
func (n Notification) canInterrupt() bool {
	switch n.Kind {
	case NotifyUserMessage, NotifyBackgroundToolComplete, NotifyBackgroundAgentComplete:
		return true
	default:
		return false
	}
}

// NotificationQueue is a FIFO staging area for events that arrive while the
// primary agent may be busy: user messages, background completions, slash
// commands, and compaction requests. It drains two ways depending on what
// the Orchestrator is doing: DrainInjectable for notifications safe to fold
// into a running turn, DrainAll once the agent goes idle.
type NotificationQueue struct {
	items []Notification
}

// NewNotificationQueue builds an empty queue.
func NewNotificationQueue() *NotificationQueue {
	return &NotificationQueue{}
}

// Push appends a notification to the tail of the queue.
func (q *NotificationQueue) Push(n Notification) {
	q.items = append(q.items, n)
}

// Empty reports whether the queue holds nothing.
func (q *NotificationQueue) Empty() bool {
	return len(q.items) == 0
}

// DrainInjectable removes and returns every notification that can_interrupt
// a busy agent (Message, BackgroundTool, BackgroundAgent), leaving Command
// and Compaction notifications queued for idle processing.
func (q *NotificationQueue) DrainInjectable() []Notification {
	var injectable, remaining []Notification
	for _, n := range q.items {
		if n.canInterrupt() {
			injectable = append(injectable, n)
		} else {
			remaining = append(remaining, n)
		}
	}
	q.items = remaining
	return injectable
}

// DrainAll removes and returns every queued notification, for batched idle
// processing once the primary agent has nothing else to do.
func (q *NotificationQueue) DrainAll() []Notification {
	drained := q.items
	q.items = nil
	return drained
}
