package orders

import (
	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/models"
)

type Event string

const (
	EventSubmit    Event = "submit"
	EventConfirm   Event = "confirm"
	EventWin       Event = "win"    // auction close, system only
	EventOutbid    Event = "outbid" // higher bid accepted, system only
	EventStart     Event = "start"
	EventComplete  Event = "complete"
	EventPayPeriod Event = "pay_period"
	EventCancel    Event = "cancel"
	EventDispute   Event = "dispute"
)

type Actor string

const (
	ActorBuyer  Actor = "buyer"
	ActorSeller Actor = "seller"
	ActorSystem Actor = "system"
)

// Action is the escrow effect a transition carries.
type Action int

const (
	ActionNone Action = iota
	ActionPlaceHold
	ActionCapture
	ActionCapturePeriod
	ActionRelease
)

func (a Action) String() string {
	switch a {
	case ActionPlaceHold:
		return "place_hold"
	case ActionCapture:
		return "capture"
	case ActionCapturePeriod:
		return "capture_period"
	case ActionRelease:
		return "release"
	default:
		return "none"
	}
}

type Transition struct {
	From   models.OrderStatus
	Event  Event
	To     models.OrderStatus
	Action Action
	Actors []Actor
}

func (t Transition) Allows(a Actor) bool {
	for _, x := range t.Actors {
		if x == a {
			return true
		}
	}
	return false
}

var (
	buyer   = []Actor{ActorBuyer}
	seller  = []Actor{ActorSeller}
	parties = []Actor{ActorBuyer, ActorSeller}
	system  = []Actor{ActorSystem}
)

const (
	created    = models.OrderStatusCreated
	awaiting   = models.OrderStatusAwaitingConfirmation
	confirmed  = models.OrderStatusConfirmed
	inProgress = models.OrderStatusInProgress
	completed  = models.OrderStatusCompleted
	cancelled  = models.OrderStatusCancelled
	disputed   = models.OrderStatusDisputed
)

// goodsFlow is shared by machine and material orders.
var goodsFlow = []Transition{
	{created, EventSubmit, awaiting, ActionNone, buyer},
	{awaiting, EventConfirm, confirmed, ActionNone, seller},
	{confirmed, EventStart, inProgress, ActionNone, seller},
	{inProgress, EventComplete, completed, ActionCapture, buyer},
	{inProgress, EventDispute, disputed, ActionNone, parties},

	{created, EventCancel, cancelled, ActionRelease, parties},
	{awaiting, EventCancel, cancelled, ActionRelease, parties},
	{confirmed, EventCancel, cancelled, ActionRelease, parties},
	{inProgress, EventCancel, cancelled, ActionRelease, parties},
}

var rentalFlow = append([]Transition{
	// To is rewritten to Completed by the final period.
	{inProgress, EventPayPeriod, inProgress, ActionCapturePeriod, buyer},
}, goodsFlow...)

var auctionFlow = []Transition{
	{created, EventWin, confirmed, ActionNone, system},
	{created, EventOutbid, cancelled, ActionRelease, system},
	{confirmed, EventStart, inProgress, ActionNone, seller},
	{confirmed, EventComplete, completed, ActionCapture, seller},
	{inProgress, EventComplete, completed, ActionCapture, seller},
	{inProgress, EventDispute, disputed, ActionNone, parties},

	{confirmed, EventCancel, cancelled, ActionRelease, parties},
	{inProgress, EventCancel, cancelled, ActionRelease, parties},
}

var jobFlow = []Transition{
	{created, EventConfirm, confirmed, ActionPlaceHold, buyer},
	{confirmed, EventComplete, completed, ActionCapture, buyer},

	{created, EventCancel, cancelled, ActionRelease, parties},
	{confirmed, EventCancel, cancelled, ActionRelease, parties},
}

var transitions = map[models.OrderDomain][]Transition{
	models.DomainAuction:  auctionFlow,
	models.DomainMachine:  goodsFlow,
	models.DomainMaterial: goodsFlow,
	models.DomainRental:   rentalFlow,
	models.DomainJob:      jobFlow,
}

// Lookup finds the transition for event from the given state. Terminal
// states have no rows, so they accept nothing.
func Lookup(domain models.OrderDomain, from models.OrderStatus, ev Event) (Transition, bool) {
	for _, t := range transitions[domain] {
		if t.From == from && t.Event == ev {
			return t, true
		}
	}
	return Transition{}, false
}

// Available lists the events the actor may fire from the order's state.
func Available(o *models.Order, actor Actor) []Event {
	var out []Event
	for _, t := range transitions[o.Domain] {
		if t.From == o.Status && t.Allows(actor) {
			out = append(out, t.Event)
		}
	}
	return out
}
