package realtime

import (
	"fmt"

	"github.com/taskboardhq/taskboard/internal/logger"
)

// DeliveryError reports a failed delivery to one recipient. Broadcasts
// aggregate these and never abort remaining sends because of one.
type DeliveryError struct {
	Principal string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Principal, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Observer is notified of every domain event the dispatcher emits. Used
// by the activity log and the broker bridge; observers must not block.
type Observer interface {
	ObserveEvent(ev Event)
}

// Dispatcher resolves recipients through the registry and pushes events
// to their connections. Delivery is best effort: a failing recipient is
// torn down and the rest still receive the event.
type Dispatcher struct {
	reg       *Registry
	observers []Observer
}

// NewDispatcher creates a dispatcher bound to a registry and wires the
// registry's connect/disconnect announcements through it.
func NewDispatcher(reg *Registry) *Dispatcher {
	d := &Dispatcher{reg: reg}
	reg.announce = func(room RoomKey, ev Event, exclude string) {
		d.BroadcastToRoom(room, ev, exclude)
	}
	return d
}

// AddObserver registers an observer for dispatched domain events. Not
// safe to call once traffic is flowing; wire observers at startup.
func (d *Dispatcher) AddObserver(o Observer) {
	d.observers = append(d.observers, o)
}

func (d *Dispatcher) observe(ev Event) {
	for _, o := range d.observers {
		o.ObserveEvent(ev)
	}
}

// deliver pushes one event to one connection, tearing the connection
// down on failure
func (d *Dispatcher) deliver(c *Conn, ev Event) *DeliveryError {
	if err := c.Enqueue(ev); err != nil {
		logger.Warn("dropping connection for %s: %v", c.Principal(), err)
		d.reg.DisconnectConn(c)
		return &DeliveryError{Principal: c.Principal(), Err: err}
	}
	d.reg.markMessageSent()
	return nil
}

// SendToPrincipal delivers an event to one principal. If the principal
// has no live connection the event is silently dropped; there is no
// offline mailbox.
func (d *Dispatcher) SendToPrincipal(principal string, ev Event) error {
	c := d.reg.Connection(principal)
	if c == nil {
		logger.Debug("no connection for %s, dropping %s event", principal, ev.Type)
		return nil
	}
	if derr := d.deliver(c, ev); derr != nil {
		return derr
	}
	return nil
}

// BroadcastToRoom delivers an event to every member of a room except the
// excluded principal. Every recipient is attempted; failures are
// aggregated and returned.
func (d *Dispatcher) BroadcastToRoom(room RoomKey, ev Event, exclude string) []*DeliveryError {
	return d.fanOut(d.reg.roomConns(room, exclude), ev)
}

// BroadcastToWorkspace delivers an event to every connection in a
// workspace except the excluded principal
func (d *Dispatcher) BroadcastToWorkspace(workspaceID string, ev Event, exclude string) []*DeliveryError {
	return d.fanOut(d.reg.workspaceConns(workspaceID, exclude), ev)
}

// BroadcastToAll delivers an event to every live connection except the
// excluded principal
func (d *Dispatcher) BroadcastToAll(ev Event, exclude string) []*DeliveryError {
	return d.fanOut(d.reg.allConns(exclude), ev)
}

func (d *Dispatcher) fanOut(conns []*Conn, ev Event) []*DeliveryError {
	var failures []*DeliveryError
	for _, c := range conns {
		if derr := d.deliver(c, ev); derr != nil {
			failures = append(failures, derr)
		}
	}
	if len(failures) > 0 {
		logger.Warn("%s event reached %d/%d recipients", ev.Type, len(conns)-len(failures), len(conns))
	}
	return failures
}

// NotifyTaskCreated broadcasts a new task to its project room
func (d *Dispatcher) NotifyTaskCreated(taskID, projectID, actor string, task map[string]interface{}) {
	ev := NewRoomEvent(EventTaskCreated, ProjectRoom(projectID), actor, map[string]interface{}{
		"task_id":    taskID,
		"project_id": projectID,
		"task":       task,
		"created_by": actor,
	})
	d.BroadcastToRoom(ProjectRoom(projectID), ev, actor)
	d.observe(ev)
}

// NotifyTaskUpdated broadcasts a task change to the project room and to
// subscribers of the task itself
func (d *Dispatcher) NotifyTaskUpdated(taskID, projectID, actor string, changes map[string]interface{}) {
	ev := NewRoomEvent(EventTaskUpdated, ProjectRoom(projectID), actor, map[string]interface{}{
		"task_id":    taskID,
		"project_id": projectID,
		"changes":    changes,
		"updated_by": actor,
	})
	d.BroadcastToRoom(ProjectRoom(projectID), ev, actor)
	d.BroadcastToRoom(TaskRoom(taskID), ev, actor)
	d.observe(ev)
}

// NotifyTaskDeleted broadcasts a task removal to its project room
func (d *Dispatcher) NotifyTaskDeleted(taskID, projectID, actor string) {
	ev := NewRoomEvent(EventTaskDeleted, ProjectRoom(projectID), actor, map[string]interface{}{
		"task_id":    taskID,
		"project_id": projectID,
		"deleted_by": actor,
	})
	d.BroadcastToRoom(ProjectRoom(projectID), ev, actor)
	d.observe(ev)
}

// NotifyTaskStatusChanged broadcasts a status transition to the project
// room and the task room
func (d *Dispatcher) NotifyTaskStatusChanged(taskID, projectID, actor, oldStatus, newStatus string) {
	ev := NewRoomEvent(EventTaskStatusChanged, ProjectRoom(projectID), actor, map[string]interface{}{
		"task_id":    taskID,
		"project_id": projectID,
		"old_status": oldStatus,
		"new_status": newStatus,
		"changed_by": actor,
	})
	d.BroadcastToRoom(ProjectRoom(projectID), ev, actor)
	d.BroadcastToRoom(TaskRoom(taskID), ev, actor)
	d.observe(ev)
}

// NotifyTaskAssigned sends the assignment to the assignee directly and
// broadcasts it to the project room with the assignee excluded, so the
// assignee sees exactly one event.
func (d *Dispatcher) NotifyTaskAssigned(taskID, projectID, assignee, actor string, task map[string]interface{}) {
	ev := NewRoomEvent(EventTaskAssigned, ProjectRoom(projectID), actor, map[string]interface{}{
		"task_id":     taskID,
		"project_id":  projectID,
		"task":        task,
		"assigned_to": assignee,
		"assigned_by": actor,
	})
	d.SendToPrincipal(assignee, ev)
	d.BroadcastToRoom(ProjectRoom(projectID), ev, assignee)
	d.observe(ev)
}

// NotifyCommentAdded broadcasts a comment to the task room and sends a
// mention event directly to each mentioned principal
func (d *Dispatcher) NotifyCommentAdded(taskID, projectID, author string, comment map[string]interface{}, mentioned []string) {
	ev := NewRoomEvent(EventCommentAdded, TaskRoom(taskID), author, map[string]interface{}{
		"task_id":    taskID,
		"project_id": projectID,
		"comment":    comment,
	})
	d.BroadcastToRoom(TaskRoom(taskID), ev, author)
	d.observe(ev)

	if len(mentioned) == 0 {
		return
	}
	mention := NewRoomEvent(EventMention, TaskRoom(taskID), author, map[string]interface{}{
		"task_id":    taskID,
		"project_id": projectID,
		"comment":    comment,
	})
	for _, principal := range mentioned {
		d.SendToPrincipal(principal, mention)
	}
	d.observe(mention)
}

// NotifyMention delivers a mention directly to one principal, outside any
// comment flow (e.g. task descriptions)
func (d *Dispatcher) NotifyMention(principal, actor string, context map[string]interface{}) {
	ev := NewUserEvent(EventMention, actor, context)
	d.SendToPrincipal(principal, ev)
	d.observe(ev)
}

// NotifyProjectUpdated broadcasts a project change to its room
func (d *Dispatcher) NotifyProjectUpdated(projectID, actor string, changes map[string]interface{}) {
	ev := NewRoomEvent(EventProjectUpdated, ProjectRoom(projectID), actor, map[string]interface{}{
		"project_id": projectID,
		"changes":    changes,
		"updated_by": actor,
	})
	d.BroadcastToRoom(ProjectRoom(projectID), ev, actor)
	d.observe(ev)
}

// NotifySprintUpdated broadcasts a sprint change to the project room
func (d *Dispatcher) NotifySprintUpdated(projectID, sprintID, actor string, changes map[string]interface{}) {
	ev := NewRoomEvent(EventSprintUpdated, ProjectRoom(projectID), actor, map[string]interface{}{
		"project_id": projectID,
		"sprint_id":  sprintID,
		"changes":    changes,
		"updated_by": actor,
	})
	d.BroadcastToRoom(ProjectRoom(projectID), ev, actor)
	d.observe(ev)
}

// BroadcastNotification sends an administrative notification to every
// connected principal except the sender
func (d *Dispatcher) BroadcastNotification(origin string, data map[string]interface{}) {
	ev := NewUserEvent(EventNotification, origin, data)
	d.BroadcastToAll(ev, origin)
	d.observe(ev)
}

// NotifyWorkspace sends an administrative notification to one workspace
func (d *Dispatcher) NotifyWorkspace(workspaceID, origin string, data map[string]interface{}) {
	room := WorkspaceRoom(workspaceID)
	ev := NewRoomEvent(EventNotification, room, origin, data)
	d.BroadcastToWorkspace(workspaceID, ev, origin)
	d.observe(ev)
}
