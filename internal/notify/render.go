package notify

import (
	"fmt"

	"github.com/helpdesk-labs/ticket-assignment/internal/events"
)

// Render builds the subject and body for an event.
func Render(event events.Event) (string, string) {
	switch p := event.Payload.(type) {
	case events.TicketAssignedPayload:
		if p.SelfAssigned {
			return fmt.Sprintf("Ticket %s assigned", event.TicketID),
				fmt.Sprintf("You picked up ticket %s.", event.TicketID)
		}
		body := fmt.Sprintf("Ticket %s was assigned to you by %s.", event.TicketID, event.Actor.ID)
		if p.Reason != "" {
			body += " Note: " + p.Reason
		}
		return fmt.Sprintf("Ticket %s assigned to you", event.TicketID), body
	case events.TicketUnassignedPayload:
		body := fmt.Sprintf("Ticket %s was unassigned from %s by %s.", event.TicketID, p.PreviousAssigneeID, event.Actor.ID)
		if p.Reason != "" {
			body += " Reason: " + p.Reason
		}
		return fmt.Sprintf("Ticket %s unassigned", event.TicketID), body
	case events.LockOverriddenPayload:
		return fmt.Sprintf("Reservation on ticket %s overridden", event.TicketID),
			fmt.Sprintf("Your reservation on ticket %s was released by administrator %s.", event.TicketID, event.Actor.ID)
	case events.ConflictPayload:
		if p.Resolved {
			return fmt.Sprintf("Assignment conflict on ticket %s resolved", event.TicketID),
				fmt.Sprintf("Conflict %s on ticket %s was resolved in favour of %s.", p.ConflictID, event.TicketID, p.WinnerID)
		}
		return fmt.Sprintf("Assignment conflict on ticket %s", event.TicketID),
			fmt.Sprintf("Conflict %s on ticket %s is awaiting review.", p.ConflictID, event.TicketID)
	}
	return fmt.Sprintf("Ticket %s: %s", event.TicketID, event.Type),
		fmt.Sprintf("Ticket %s: %s", event.TicketID, event.Type)
}
